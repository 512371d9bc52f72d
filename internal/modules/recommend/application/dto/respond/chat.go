package respond

import (
	"time"

	"ShopSage/internal/modules/recommend/domain/recommendation"
)

// ChatRecommendationResponse 一轮推荐的完整结果；Trace 标注降级与部分结果
type ChatRecommendationResponse struct {
	SessionId string                                   `json:"session_id"`
	Reply     string                                   `json:"reply"`
	Products  []recommendation.ProductRecommendation   `json:"products"`
	Evidence  []recommendation.Evidence                `json:"evidence"`
	Trace     *recommendation.Trace                    `json:"trace"`
	Timestamp time.Time                                `json:"timestamp"`
}

// SessionMessage 历史消息，assistant 消息带当次推荐快照
type SessionMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Products  string    `json:"products,omitempty"`
	Evidence  string    `json:"evidence,omitempty"`
	TraceId   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionHistoryResponse struct {
	SessionId string           `json:"session_id"`
	Messages  []SessionMessage `json:"messages"`
}
