package persistence

import (
	"context"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"

	"gorm.io/gorm"
)

type kbRepositoryImpl struct {
	db *gorm.DB
}

func NewKBRepository(db *gorm.DB) repository.KBRepository {
	return &kbRepositoryImpl{db: db}
}

func (r *kbRepositoryImpl) Create(ctx context.Context, b *kb.KnowledgeBase) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *kbRepositoryImpl) GetByDBId(ctx context.Context, dbID string) (*kb.KnowledgeBase, error) {
	var b kb.KnowledgeBase
	err := r.db.WithContext(ctx).Where("db_id = ?", dbID).Take(&b).Error
	if err == nil {
		return &b, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *kbRepositoryImpl) List(ctx context.Context) ([]*kb.KnowledgeBase, error) {
	var out []*kb.KnowledgeBase
	err := r.db.WithContext(ctx).
		Where("status = ?", kb.KBStatusActive).
		Order("id desc").
		Find(&out).Error
	return out, err
}

func (r *kbRepositoryImpl) Update(ctx context.Context, dbID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&kb.KnowledgeBase{}).
		Where("db_id = ?", dbID).
		Updates(updates).Error
}

func (r *kbRepositoryImpl) SoftDelete(ctx context.Context, dbID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&kb.KnowledgeBase{}).
			Where("db_id = ?", dbID).
			Updates(map[string]interface{}{"status": kb.KBStatusDeleted, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		return tx.Where("db_id = ?", dbID).Delete(&kb.KnowledgeBase{}).Error
	})
}

// SwitchActiveIndex 重建提交点：当前集合与图代必须一起落库
func (r *kbRepositoryImpl) SwitchActiveIndex(ctx context.Context, dbID, collection string, graphGeneration int64) error {
	return r.db.WithContext(ctx).
		Model(&kb.KnowledgeBase{}).
		Where("db_id = ?", dbID).
		Updates(map[string]interface{}{
			"active_collection": collection,
			"graph_generation":  graphGeneration,
			"updated_at":        time.Now(),
		}).Error
}
