package request

// FiltersRequest 结构化过滤条件；全空表示不过滤
type FiltersRequest struct {
	PriceMin   *float64 `json:"price_min"`
	PriceMax   *float64 `json:"price_max"`
	Brands     []string `json:"brands"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

// HistoryMessage 客户端携带的上下文消息（可选，服务端也保存会话历史）
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRecommendationRequest 一轮推荐咨询。SessionId 缺省时服务端生成。
type ChatRecommendationRequest struct {
	SessionId string           `json:"session_id"`
	Message   string           `json:"message" binding:"required"`
	History   []HistoryMessage `json:"history"`
	Filters   *FiltersRequest  `json:"filters"`
	TopK      int              `json:"top_k"`
	Lang      string           `json:"lang"`
}
