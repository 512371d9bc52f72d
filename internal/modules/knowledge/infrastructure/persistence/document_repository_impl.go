package persistence

import (
	"context"
	"database/sql"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"

	"gorm.io/gorm"
)

type documentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &documentRepositoryImpl{db: db}
}

func (r *documentRepositoryImpl) CreateDocument(ctx context.Context, doc *kb.KnowledgeDocument) error {
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepositoryImpl) GetDocument(ctx context.Context, docID string) (*kb.KnowledgeDocument, error) {
	var doc kb.KnowledgeDocument
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).Take(&doc).Error
	if err == nil {
		return &doc, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) ListDocumentsByKB(ctx context.Context, kbDBId string) ([]*kb.KnowledgeDocument, error) {
	var out []*kb.KnowledgeDocument
	err := r.db.WithContext(ctx).
		Where("kb_db_id = ?", kbDBId).
		Order("id asc").
		Find(&out).Error
	return out, err
}

func (r *documentRepositoryImpl) UpdateDocumentStatus(ctx context.Context, docID, status, errMsg string) error {
	return r.db.WithContext(ctx).
		Model(&kb.KnowledgeDocument{}).
		Where("doc_id = ?", docID).
		Updates(map[string]interface{}{
			"processing_status": status,
			"error_msg":         errMsg,
			"updated_at":        time.Now(),
		}).Error
}

func (r *documentRepositoryImpl) UpdateDocumentChunkCount(ctx context.Context, docID string, count int) error {
	return r.db.WithContext(ctx).
		Model(&kb.KnowledgeDocument{}).
		Where("doc_id = ?", docID).
		Updates(map[string]interface{}{"chunk_count": count, "updated_at": time.Now()}).Error
}

func (r *documentRepositoryImpl) BumpAttempt(ctx context.Context, docID string) (int, error) {
	var attempt int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&kb.KnowledgeDocument{}).
			Where("doc_id = ?", docID).
			UpdateColumn("attempt", gorm.Expr("attempt + 1")).Error; err != nil {
			return err
		}
		var doc kb.KnowledgeDocument
		if err := tx.Select("attempt").Where("doc_id = ?", docID).Take(&doc).Error; err != nil {
			return err
		}
		attempt = doc.Attempt
		return nil
	})
	return attempt, err
}

func (r *documentRepositoryImpl) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*kb.KnowledgeDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*kb.KnowledgeDocument
	err := r.db.WithContext(ctx).
		Where("processing_status = ? AND updated_at < ?", kb.DocStatusProcessing, olderThan).
		Order("updated_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *documentRepositoryImpl) DeleteDocument(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", docID).Delete(&kb.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("doc_id = ?", docID).Delete(&kb.VectorRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("doc_id = ?", docID).Delete(&kb.IngestAttempt{}).Error; err != nil {
			return err
		}
		return tx.Where("doc_id = ?", docID).Delete(&kb.KnowledgeDocument{}).Error
	})
}

func (r *documentRepositoryImpl) CreateAttempt(ctx context.Context, at *kb.IngestAttempt) error {
	if at.StartedAt.IsZero() {
		at.StartedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(at).Error
}

func (r *documentRepositoryImpl) FinishAttempt(ctx context.Context, docID string, attempt int, status, errMsg string, chunksWritten int) error {
	return r.db.WithContext(ctx).
		Model(&kb.IngestAttempt{}).
		Where("doc_id = ? AND attempt = ?", docID, attempt).
		Updates(map[string]interface{}{
			"status":         status,
			"error_msg":      errMsg,
			"chunks_written": chunksWritten,
			"finished_at":    sql.NullTime{Time: time.Now(), Valid: true},
		}).Error
}

func (r *documentRepositoryImpl) ListAttempts(ctx context.Context, docID string) ([]*kb.IngestAttempt, error) {
	var out []*kb.IngestAttempt
	err := r.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		Order("attempt asc").
		Find(&out).Error
	return out, err
}

func (r *documentRepositoryImpl) ReplaceChunks(ctx context.Context, docID string, chunks []*kb.KnowledgeChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", docID).Delete(&kb.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 200).Error
	})
}

func (r *documentRepositoryImpl) ListChunksByDoc(ctx context.Context, docID string) ([]*kb.KnowledgeChunk, error) {
	var out []*kb.KnowledgeChunk
	err := r.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		Order("position asc").
		Find(&out).Error
	return out, err
}

func (r *documentRepositoryImpl) DeleteChunksByDoc(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Where("doc_id = ?", docID).Delete(&kb.KnowledgeChunk{}).Error
}

func (r *documentRepositoryImpl) CountChunksByKB(ctx context.Context, kbDBId string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&kb.KnowledgeChunk{}).
		Where("kb_db_id = ?", kbDBId).
		Count(&count).Error
	return count, err
}

func (r *documentRepositoryImpl) ReplaceVectorRecords(ctx context.Context, docID string, records []*kb.VectorRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", docID).Delete(&kb.VectorRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 200).Error
	})
}

func (r *documentRepositoryImpl) UpdateVectorStatus(ctx context.Context, vectorID string, status int8, errMsg string) error {
	return r.db.WithContext(ctx).
		Model(&kb.VectorRecord{}).
		Where("vector_id = ?", vectorID).
		Updates(map[string]interface{}{
			"embed_status": status,
			"error_msg":    errMsg,
			"updated_at":   time.Now(),
		}).Error
}

func (r *documentRepositoryImpl) ListVectorIDsByDoc(ctx context.Context, docID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&kb.VectorRecord{}).
		Where("doc_id = ?", docID).
		Pluck("vector_id", &ids).Error
	return ids, err
}

func (r *documentRepositoryImpl) DeleteVectorRecordsByDoc(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Where("doc_id = ?", docID).Delete(&kb.VectorRecord{}).Error
}
