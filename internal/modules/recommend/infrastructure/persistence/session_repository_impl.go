package persistence

import (
	"context"
	"time"

	"ShopSage/internal/modules/recommend/domain/entity"
	"ShopSage/internal/modules/recommend/domain/repository"

	"gorm.io/gorm"
)

type sessionRepositoryImpl struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &sessionRepositoryImpl{db: db}
}

func (r *sessionRepositoryImpl) EnsureSession(ctx context.Context, sessionID, kbDBId, lang string) (*entity.ChatSession, error) {
	var s entity.ChatSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&s).Error
	if err == nil {
		if err := r.db.WithContext(ctx).Model(&s).Update("updated_at", time.Now()).Error; err != nil {
			return nil, err
		}
		return &s, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	now := time.Now()
	s = entity.ChatSession{
		SessionId: sessionID,
		KBDBId:    kbDBId,
		Lang:      lang,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepositoryImpl) GetSession(ctx context.Context, sessionID string) (*entity.ChatSession, error) {
	var s entity.ChatSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&s).Error
	if err == nil {
		return &s, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *sessionRepositoryImpl) AppendMessage(ctx context.Context, msg *entity.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *sessionRepositoryImpl) ListMessages(ctx context.Context, sessionID string, limit int) ([]*entity.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*entity.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// 倒查再反转，拿到的是按时间升序的最近 limit 条
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *sessionRepositoryImpl) DeleteSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&entity.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).Delete(&entity.ChatSession{}).Error
	})
}
