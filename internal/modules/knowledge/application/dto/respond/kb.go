package respond

import "time"

type KBInfo struct {
	DBId        string `json:"kb_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	EmbedModel  string `json:"embed_model"`
	Dimension   int    `json:"dimension"`

	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`

	VectorWeight      *float64 `json:"vector_weight,omitempty"`
	GraphWeight       *float64 `json:"graph_weight,omitempty"`
	DualEvidenceBonus *float64 `json:"dual_evidence_bonus,omitempty"`
	ExpandDepth       *int     `json:"expand_depth,omitempty"`
	AllowUngrounded   bool     `json:"allow_ungrounded"`

	DocumentCount int64     `json:"document_count"`
	ChunkCount    int64     `json:"chunk_count"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type DocumentInfo struct {
	DocID            string    `json:"doc_id"`
	KBDBId           string    `json:"kb_id"`
	Filename         string    `json:"filename"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `json:"size_bytes"`
	ProcessingStatus string    `json:"processing_status"`
	ErrorMsg         string    `json:"error_msg,omitempty"`
	Attempt          int       `json:"attempt"`
	ChunkCount       int       `json:"chunk_count"`
	UploadTime       time.Time `json:"upload_time"`
}

type IngestAttemptInfo struct {
	Attempt       int        `json:"attempt"`
	Status        string     `json:"status"`
	ErrorMsg      string     `json:"error_msg,omitempty"`
	ChunksWritten int        `json:"chunks_written"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

type ChunkInfo struct {
	ChunkID  string `json:"chunk_id"`
	Position int    `json:"position"`
	Content  string `json:"content"`
}

type DocumentDetail struct {
	DocumentInfo
	Attempts []IngestAttemptInfo `json:"attempts"`
	Chunks   []ChunkInfo         `json:"chunks,omitempty"`
}

type RebuildJobInfo struct {
	JobID      string     `json:"job_id"`
	KBDBId     string     `json:"kb_id"`
	Status     string     `json:"status"`
	TotalDocs  int        `json:"total_docs"`
	DoneDocs   int        `json:"done_docs"`
	FailedDocs int        `json:"failed_docs"`
	ErrorMsg   string     `json:"error_msg,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type GraphNode struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	HasEmbedding bool   `json:"has_embedding"`
}

type GraphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	SourceName string  `json:"source_name"`
	TargetName string  `json:"target_name"`
	Type       string  `json:"type"`
	Weight     float64 `json:"weight"`
}

type SubgraphResponse struct {
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	Truncated bool        `json:"truncated"`
}

type IndexEntitiesResult struct {
	Indexed   int `json:"indexed"`
	Remaining int `json:"remaining"`
}

// NodeResponse 单实体查询：实体本身及其一跳邻接边
type NodeResponse struct {
	Entity    GraphNode   `json:"entity"`
	Neighbors []GraphNode `json:"neighbors"`
	Relations []GraphEdge `json:"relations"`
}

type BulkTriplesResult struct {
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
}
