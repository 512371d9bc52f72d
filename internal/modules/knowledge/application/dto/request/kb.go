package request

// CreateKBRequest 建库。Dimension 必填且建库后不可变。
type CreateKBRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	EmbedModel  string `json:"embed_model"`
	Dimension   int    `json:"dimension" binding:"required"`

	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`

	VectorWeight      *float64 `json:"vector_weight"`
	GraphWeight       *float64 `json:"graph_weight"`
	DualEvidenceBonus *float64 `json:"dual_evidence_bonus"`
	ExpandDepth       *int     `json:"expand_depth"`
	AllowUngrounded   *bool    `json:"allow_ungrounded"`
}

// UpdateKBRequest 可更新字段；nil 表示不改
type UpdateKBRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`

	ChunkSize    *int `json:"chunk_size"`
	ChunkOverlap *int `json:"chunk_overlap"`

	VectorWeight      *float64 `json:"vector_weight"`
	GraphWeight       *float64 `json:"graph_weight"`
	DualEvidenceBonus *float64 `json:"dual_evidence_bonus"`
	ExpandDepth       *int     `json:"expand_depth"`
	AllowUngrounded   *bool    `json:"allow_ungrounded"`
}
