package repository

import "context"

// VectorStore 是 domain 层定义的“向量库能力抽象”。
//
// 设计约束：
// 1) application / domain 只能依赖本接口，不应直接依赖 Milvus SDK。
// 2) infrastructure 通过适配器实现本接口（MilvusStore / MemoryStore），做到可替换。
//
// 集合管理围绕“分代 + 别名”展开：每个 KB 的数据写入带代号后缀的真实集合，
// 查询经由 KB 别名；重建索引先写新集合，全部成功后把别名切过去（staged swap）。

// VectorUpsertItem 向量写入所需的标准字段。KBDBId/DocId/ChunkId 用于隔离与可追溯，
// SKU/Brand/Category/Price/Tags 用于查询期的结构化后置过滤。
type VectorUpsertItem struct {
	ID       string
	Vector   []float32
	KBDBId   string
	DocId    string
	ChunkId  string
	SKU      string
	Brand    string
	Category string
	Price    float64
	TagsJSON string
	Content  string
	MetaJSON string
}

// VectorSearchHit 一次相似度检索的单条命中
type VectorSearchHit struct {
	ID       string
	Score    float32
	KBDBId   string
	DocId    string
	ChunkId  string
	SKU      string
	Brand    string
	Category string
	Price    float64
	TagsJSON string
	Content  string
	MetaJSON string
}

type VectorStore interface {
	// EnsureCollection 创建集合与索引（存在则跳过）；dim 是集合内向量的唯一合法维度
	EnsureCollection(ctx context.Context, collection string, dim int) error
	DropCollection(ctx context.Context, collection string) error

	// BindAlias 将 alias 原子地指向 collection（不存在则创建别名）
	BindAlias(ctx context.Context, alias, collection string) error
	DropAlias(ctx context.Context, alias string) error

	Upsert(ctx context.Context, collection string, items []VectorUpsertItem) ([]string, error)
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	DeleteByDoc(ctx context.Context, collection string, docID string) error

	// Search 在 collection（通常传别名）中检索 topK 近邻，expr 为元数据过滤表达式
	Search(ctx context.Context, collection string, vector []float32, topK int, expr string) ([]VectorSearchHit, error)

	Ping(ctx context.Context) error
}
