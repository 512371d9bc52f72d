package repository

import (
	"context"

	"ShopSage/internal/modules/recommend/domain/entity"
)

// SessionRepository 会话与消息（MySQL）的持久化
type SessionRepository interface {
	// EnsureSession 不存在则创建，返回会话行
	EnsureSession(ctx context.Context, sessionID, kbDBId, lang string) (*entity.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*entity.ChatSession, error)

	AppendMessage(ctx context.Context, msg *entity.ChatMessage) error
	// ListMessages 按时间升序返回最近 limit 条
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*entity.ChatMessage, error)

	// DeleteSession 删除会话及其全部消息
	DeleteSession(ctx context.Context, sessionID string) error
}
