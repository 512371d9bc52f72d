package repository

import (
	"context"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
)

// KBRepository 负责知识库元数据（MySQL）的持久化
type KBRepository interface {
	Create(ctx context.Context, b *kb.KnowledgeBase) error
	GetByDBId(ctx context.Context, dbID string) (*kb.KnowledgeBase, error)
	List(ctx context.Context) ([]*kb.KnowledgeBase, error)
	Update(ctx context.Context, dbID string, updates map[string]interface{}) error
	// SoftDelete 标记删除；底层向量集合与图数据由 service 负责清理
	SoftDelete(ctx context.Context, dbID string) error

	// SwitchActiveIndex 在一个事务里更新当前集合与图代（重建提交点）
	SwitchActiveIndex(ctx context.Context, dbID, collection string, graphGeneration int64) error
}

// DocumentRepository 负责文档、切片、向量记录与摄取历史的持久化
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *kb.KnowledgeDocument) error
	GetDocument(ctx context.Context, docID string) (*kb.KnowledgeDocument, error)
	ListDocumentsByKB(ctx context.Context, kbDBId string) ([]*kb.KnowledgeDocument, error)
	// UpdateDocumentStatus 推进状态机并记录失败原因
	UpdateDocumentStatus(ctx context.Context, docID, status, errMsg string) error
	UpdateDocumentChunkCount(ctx context.Context, docID string, count int) error
	// BumpAttempt 自增并返回新的 attempt 序号
	BumpAttempt(ctx context.Context, docID string) (int, error)
	// ListStaleProcessing 找出卡在 processing 超过期限的文档（崩溃遗留修复）
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*kb.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, docID string) error

	CreateAttempt(ctx context.Context, at *kb.IngestAttempt) error
	FinishAttempt(ctx context.Context, docID string, attempt int, status, errMsg string, chunksWritten int) error
	ListAttempts(ctx context.Context, docID string) ([]*kb.IngestAttempt, error)

	// ReplaceChunks 删除文档旧切片并写入新切片（同一事务）
	ReplaceChunks(ctx context.Context, docID string, chunks []*kb.KnowledgeChunk) error
	ListChunksByDoc(ctx context.Context, docID string) ([]*kb.KnowledgeChunk, error)
	DeleteChunksByDoc(ctx context.Context, docID string) error
	CountChunksByKB(ctx context.Context, kbDBId string) (int64, error)

	ReplaceVectorRecords(ctx context.Context, docID string, records []*kb.VectorRecord) error
	UpdateVectorStatus(ctx context.Context, vectorID string, status int8, errMsg string) error
	ListVectorIDsByDoc(ctx context.Context, docID string) ([]string, error)
	DeleteVectorRecordsByDoc(ctx context.Context, docID string) error
}

// RebuildJobRepository 负责重建任务行
type RebuildJobRepository interface {
	Create(ctx context.Context, job *kb.RebuildJob) error
	GetByJobId(ctx context.Context, jobID string) (*kb.RebuildJob, error)
	GetLatestByKB(ctx context.Context, kbDBId string) (*kb.RebuildJob, error)
	UpdateStatus(ctx context.Context, jobID, status, errMsg string) error
	AddCounters(ctx context.Context, jobID string, doneDelta, failedDelta int) error
	SetTotals(ctx context.Context, jobID string, totalDocs int) error
}
