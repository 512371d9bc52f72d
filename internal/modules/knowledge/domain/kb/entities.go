package kb

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// 文档处理状态机：pending → processing → completed | failed
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// 重建任务状态
const (
	RebuildStatusRunning   = "running"
	RebuildStatusCompleted = "completed"
	RebuildStatusFailed    = "failed"
	RebuildStatusCancelled = "cancelled"
)

// KB 状态
const (
	KBStatusActive  = "active"
	KBStatusDeleted = "deleted"
)

const (
	VectorEmbedStatusPending   int8 = 0
	VectorEmbedStatusSucceeded int8 = 1
	VectorEmbedStatusFailed    int8 = 2
)

// KnowledgeBase 租户级知识库。一个 KB 独占一个向量集合别名与一个图命名空间。
// Dimension 是该 KB 向量集合的唯一合法维度，写入前校验，不一致直接拒绝。
type KnowledgeBase struct {
	Id          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	DBId        string `gorm:"column:db_id;type:varchar(64);not null;uniqueIndex:uniq_kb_db_id"`
	Name        string `gorm:"column:name;type:varchar(100);not null"`
	Description string `gorm:"column:description;type:varchar(500)"`
	EmbedModel  string `gorm:"column:embed_model;type:varchar(64);not null"`
	Dimension   int    `gorm:"column:dimension;type:int;not null"`

	ChunkSize    int `gorm:"column:chunk_size;type:int;not null;default:500"`
	ChunkOverlap int `gorm:"column:chunk_overlap;type:int;not null;default:50"`

	// 融合权重：NULL 表示沿用全局默认
	VectorWeight      sql.NullFloat64 `gorm:"column:vector_weight;type:double"`
	GraphWeight       sql.NullFloat64 `gorm:"column:graph_weight;type:double"`
	DualEvidenceBonus sql.NullFloat64 `gorm:"column:dual_evidence_bonus;type:double"`
	ExpandDepth       sql.NullInt64   `gorm:"column:expand_depth;type:int"`
	AllowUngrounded   bool            `gorm:"column:allow_ungrounded;type:tinyint(1);not null;default:0"`

	// 当前可查询的向量集合（别名指向的真实集合）与图数据代
	ActiveCollection string `gorm:"column:active_collection;type:varchar(128);not null"`
	GraphGeneration  int64  `gorm:"column:graph_generation;type:bigint;not null;default:1"`

	Status    string         `gorm:"column:status;type:varchar(20);not null;default:'active'"`
	CreatedAt time.Time      `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:datetime;not null"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;type:datetime;index"`
}

func (KnowledgeBase) TableName() string { return "kb_knowledge_base" }

// KnowledgeDocument 上传文档。状态只由摄取管线推进。
type KnowledgeDocument struct {
	Id          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	DocId       string `gorm:"column:doc_id;type:varchar(64);not null;uniqueIndex:uniq_kb_doc_id"`
	KBDBId      string `gorm:"column:kb_db_id;type:varchar(64);not null;index:idx_kb_doc_kb"`
	Filename    string `gorm:"column:filename;type:varchar(255);not null"`
	ContentType string `gorm:"column:content_type;type:varchar(64);not null"`
	SizeBytes   int64  `gorm:"column:size_bytes;type:bigint;not null"`
	ContentHash string `gorm:"column:content_hash;type:char(64);not null;index:idx_kb_doc_hash"`
	// 原始内容保存在 MySQL，重建索引时重放摄取
	Content string `gorm:"column:content;type:mediumtext"`

	ProcessingStatus string    `gorm:"column:processing_status;type:varchar(20);not null;default:'pending';index:idx_kb_doc_status"`
	ErrorMsg         string    `gorm:"column:error_msg;type:varchar(500)"`
	Attempt          int       `gorm:"column:attempt;type:int;not null;default:0"`
	ChunkCount       int       `gorm:"column:chunk_count;type:int;not null;default:0"`
	UploadTime       time.Time `gorm:"column:upload_time;type:datetime;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (KnowledgeDocument) TableName() string { return "kb_document" }

// IngestAttempt 摄取历史。重新摄取追加新行而不是改写旧行。
type IngestAttempt struct {
	Id            int64        `gorm:"column:id;primaryKey;autoIncrement"`
	DocId         string       `gorm:"column:doc_id;type:varchar(64);not null;index:idx_kb_attempt_doc"`
	Attempt       int          `gorm:"column:attempt;type:int;not null"`
	Status        string       `gorm:"column:status;type:varchar(20);not null"`
	ErrorMsg      string       `gorm:"column:error_msg;type:varchar(500)"`
	ChunksWritten int          `gorm:"column:chunks_written;type:int;not null;default:0"`
	StartedAt     time.Time    `gorm:"column:started_at;type:datetime;not null"`
	FinishedAt    sql.NullTime `gorm:"column:finished_at;type:datetime"`
}

func (IngestAttempt) TableName() string { return "kb_ingest_attempt" }

// KnowledgeChunk 文档切片；随文档删除或重摄取而整体替换
type KnowledgeChunk struct {
	Id          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChunkId     string    `gorm:"column:chunk_id;type:varchar(160);not null;uniqueIndex:uniq_kb_chunk_id"`
	DocId       string    `gorm:"column:doc_id;type:varchar(64);not null;index:idx_kb_chunk_doc"`
	KBDBId      string    `gorm:"column:kb_db_id;type:varchar(64);not null;index:idx_kb_chunk_kb"`
	Position    int       `gorm:"column:position;type:int;not null"`
	Content     string    `gorm:"column:content;type:mediumtext"`
	ContentHash string    `gorm:"column:content_hash;type:char(64);not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:datetime;not null"`
}

func (KnowledgeChunk) TableName() string { return "kb_chunk" }

// VectorRecord 切片与向量库中向量的对应关系与嵌入状态
type VectorRecord struct {
	Id                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChunkId           string    `gorm:"column:chunk_id;type:varchar(160);not null;uniqueIndex:uniq_kb_vector_chunk"`
	DocId             string    `gorm:"column:doc_id;type:varchar(64);not null;index:idx_kb_vector_doc"`
	Collection        string    `gorm:"column:collection;type:varchar(128);not null"`
	VectorId          string    `gorm:"column:vector_id;type:varchar(128);not null;uniqueIndex:uniq_kb_vector_id"`
	EmbeddingProvider string    `gorm:"column:embedding_provider;type:varchar(30);not null"`
	EmbeddingModel    string    `gorm:"column:embedding_model;type:varchar(64);not null"`
	Dim               int       `gorm:"column:dim;type:int;not null"`
	EmbedStatus       int8      `gorm:"column:embed_status;type:tinyint;not null;default:0;index:idx_kb_vector_status"`
	ErrorMsg          string    `gorm:"column:error_msg;type:varchar(255)"`
	CreatedAt         time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt         time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (VectorRecord) TableName() string { return "kb_vector_record" }

// RebuildJob 每 KB 至多一个 running 行（由 IndexManager 保证）
type RebuildJob struct {
	Id               int64        `gorm:"column:id;primaryKey;autoIncrement"`
	JobId            string       `gorm:"column:job_id;type:varchar(64);not null;uniqueIndex:uniq_kb_rebuild_job"`
	KBDBId           string       `gorm:"column:kb_db_id;type:varchar(64);not null;index:idx_kb_rebuild_kb"`
	Status           string       `gorm:"column:status;type:varchar(20);not null;index:idx_kb_rebuild_status"`
	TotalDocs        int          `gorm:"column:total_docs;type:int;not null;default:0"`
	DoneDocs         int          `gorm:"column:done_docs;type:int;not null;default:0"`
	FailedDocs       int          `gorm:"column:failed_docs;type:int;not null;default:0"`
	StagedCollection string       `gorm:"column:staged_collection;type:varchar(128);not null"`
	StagedGeneration int64        `gorm:"column:staged_generation;type:bigint;not null;default:0"`
	ErrorMsg         string       `gorm:"column:error_msg;type:varchar(500)"`
	StartedAt        time.Time    `gorm:"column:started_at;type:datetime;not null"`
	FinishedAt       sql.NullTime `gorm:"column:finished_at;type:datetime"`
}

func (RebuildJob) TableName() string { return "kb_rebuild_job" }
