package entity

import "time"

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// ChatSession 会话按 (kb_db_id, session_id) 归属，消息只追加不改写
type ChatSession struct {
	Id        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SessionId string    `gorm:"column:session_id;type:varchar(64);not null;uniqueIndex:uniq_rec_session_id"`
	KBDBId    string    `gorm:"column:kb_db_id;type:varchar(64);not null;index:idx_rec_session_kb"`
	Lang      string    `gorm:"column:lang;type:varchar(10)"`
	CreatedAt time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (ChatSession) TableName() string { return "rec_chat_session" }

// ChatMessage 一条会话消息。assistant 消息快照当次的推荐与证据，
// 历史查询不重放检索。
type ChatMessage struct {
	Id        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionId string `gorm:"column:session_id;type:varchar(64);not null;index:idx_rec_msg_session"`
	Role      string `gorm:"column:role;type:varchar(20);not null"`
	Content   string `gorm:"column:content;type:text"`

	ProductsJSON string `gorm:"column:products_json;type:mediumtext"`
	EvidenceJSON string `gorm:"column:evidence_json;type:mediumtext"`
	TraceId      string `gorm:"column:trace_id;type:varchar(64)"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime;not null"`
}

func (ChatMessage) TableName() string { return "rec_chat_message" }
