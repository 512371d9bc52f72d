package repository

import "context"

// GraphStore 是 domain 层定义的“知识图谱能力抽象”，由 Neo4j 适配器或内存实现提供。
// 实体按 (kb, name, type) 幂等合并；关系有向且带非负权重，用于子图排序。
// generation 与向量集合的分代一致：重建写新代，成功后 Promote，旧代删除。

type GraphEntity struct {
	ID           string
	KBDBId       string
	Name         string
	Type         string
	HasEmbedding bool
}

type GraphRelation struct {
	SourceID   string
	TargetID   string
	SourceName string
	TargetName string
	Type       string
	Weight     float64
}

// Triple 摄取期提取出的一条 (头实体, 关系, 尾实体)
type Triple struct {
	Head     string
	HeadType string
	Relation string
	Tail     string
	TailType string
	Weight   float64
}

type Subgraph struct {
	Nodes     []GraphEntity
	Edges     []GraphRelation
	Truncated bool
}

type GraphStats struct {
	TotalNodes  int64            `json:"total_nodes"`
	TotalEdges  int64            `json:"total_edges"`
	EntityTypes []EntityTypeStat `json:"entity_types"`
	IsTruncated bool             `json:"is_truncated"`
}

type EntityTypeStat struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type EntityEmbedding struct {
	Name   string
	Vector []float32
}

type GraphStore interface {
	// UpsertTriples 把三元组合并进 (kbDBId, generation) 命名空间；按 (name, type) 幂等
	UpsertTriples(ctx context.Context, kbDBId string, generation int64, triples []Triple) error

	// PromoteGeneration 将 generation 设为当前代并删除其它代的数据
	PromoteGeneration(ctx context.Context, kbDBId string, generation int64) error
	// DropGeneration 丢弃一个未提升的代（重建取消/失败时）
	DropGeneration(ctx context.Context, kbDBId string, generation int64) error
	DeleteByKB(ctx context.Context, kbDBId string) error

	// MatchEntities 实体链接：精确 + 子串模糊匹配查询文本中的实体提及
	MatchEntities(ctx context.Context, kbDBId string, generation int64, mention string, limit int) ([]GraphEntity, error)

	// Expand 以实体为起点取 depth 跳子图，按关系权重降序，nodeBudget 限制节点总数
	Expand(ctx context.Context, kbDBId string, generation int64, entityName string, depth, nodeBudget int) (*Subgraph, error)

	SampleNodes(ctx context.Context, kbDBId string, generation int64, num int) (*Subgraph, error)
	Labels(ctx context.Context, kbDBId string, generation int64) ([]string, error)
	Stats(ctx context.Context, kbDBId string, generation int64) (*GraphStats, error)

	// EntitiesWithoutEmbedding / SetEntityEmbeddings 支撑实体向量补建
	EntitiesWithoutEmbedding(ctx context.Context, kbDBId string, generation int64, limit int) ([]string, error)
	SetEntityEmbeddings(ctx context.Context, kbDBId string, generation int64, embeddings []EntityEmbedding) error

	Ping(ctx context.Context) error
}
