package recommendation

// Filters 查询期的结构化过滤条件，作用在向量命中的元数据上（后置过滤）
type Filters struct {
	PriceMin   *float64 `json:"price_min,omitempty"`
	PriceMax   *float64 `json:"price_max,omitempty"`
	Brands     []string `json:"brands,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func (f Filters) Empty() bool {
	return f.PriceMin == nil && f.PriceMax == nil &&
		len(f.Brands) == 0 && len(f.Categories) == 0 && len(f.Tags) == 0
}

// Evidence 把推荐结果追溯回检索来源。type 为 doc 时 SourceID 是 chunk，
// graph 证据也归入 doc 类型，SourceID 带实体路径。
type Evidence struct {
	Type     string  `json:"type"`
	SourceID string  `json:"sourceId"`
	Snippet  string  `json:"snippet"`
	Href     string  `json:"href,omitempty"`
	Score    float64 `json:"-"`
}

const (
	EvidenceTypeDoc = "doc"
	EvidenceTypeURL = "url"
)

// Candidate 融合前的候选。两路召回各自填充原始分，Key 用于跨通道去重。
type Candidate struct {
	Key string

	SKU      string
	Title    string
	Price    float64
	Currency string
	Brand    string
	Category string
	Tags     []string

	DocID   string
	ChunkID string
	Content string

	// UploadedAt 来源文档的上传时间（Unix 秒），并列分时新文档优先
	UploadedAt int64

	VectorScore float64
	HasVector   bool
	GraphScore  float64
	HasGraph    bool

	DualEvidence bool
	FinalScore   float64

	Reasons  []string
	Evidence []Evidence
}

// ProductRecommendation 对外返回的推荐条目；查询期派生，不单独持久化
type ProductRecommendation struct {
	SKU      string     `json:"sku"`
	Title    string     `json:"title"`
	Price    float64    `json:"price"`
	Currency string     `json:"currency"`
	Score    float64    `json:"score"`
	Reasons  []string   `json:"reasons"`
	Tags     []string   `json:"tags"`
	Evidence []Evidence `json:"evidence"`
	// Ungrounded 仅在 KB 允许无证据推荐时出现
	Ungrounded bool `json:"ungrounded,omitempty"`
}

// Trace 单次查询的可观测信息，随响应返回
type Trace struct {
	TraceID    string   `json:"trace_id"`
	Degraded   bool     `json:"degraded"`
	Partial    bool     `json:"partial"`
	Notes      []string `json:"notes,omitempty"`
	EmbedMs    int64    `json:"embed_ms"`
	VectorMs   int64    `json:"vector_ms"`
	GraphMs    int64    `json:"graph_ms"`
	TotalMs    int64    `json:"total_ms"`
	VectorHits int      `json:"vector_hits"`
	GraphHits  int      `json:"graph_hits"`
}

// FusionWeights 分数融合权重，KB 级可覆盖全局默认
type FusionWeights struct {
	Vector    float64
	Graph     float64
	DualBonus float64
}
