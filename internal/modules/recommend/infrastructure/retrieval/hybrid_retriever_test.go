package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ShopSage/internal/config"
	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/embedding"
	"ShopSage/internal/modules/knowledge/infrastructure/graphdb"
	"ShopSage/internal/modules/knowledge/infrastructure/pipeline"
	"ShopSage/internal/modules/knowledge/infrastructure/vectordb"
	"ShopSage/internal/modules/recommend/domain/recommendation"
	"ShopSage/pkg/xerr"

	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const retrievalTestDim = 32

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		MaxTopK:            10,
		DefaultTopK:        5,
		CandidateMultiple:  4,
		ExpandDepth:        1,
		ExpandNodeBudget:   64,
		VectorWeight:       0.6,
		GraphWeight:        0.3,
		DualEvidenceBonus:  0.1,
		QueryTimeoutMs:     5000,
		PerCallTimeoutMs:   3000,
		EntityLinkMaxNames: 5,
	}
}

type retrieverEnv struct {
	vs        *vectordb.MemoryStore
	gs        *graphdb.MemoryStore
	embedder  *embedding.MockEmbedder
	retriever *HybridRetriever
	base      *kb.KnowledgeBase
}

// newRetrieverEnv 构建内存两路召回环境：kb_test 的 g1 集合 + 别名 + g1 图代。
// 被检索的文档向量与查询向量走同一个嵌入器，词面重叠才有可比的相似度。
func newRetrieverEnv(t *testing.T) *retrieverEnv {
	t.Helper()
	ctx := context.Background()

	vs := vectordb.NewMemoryStore()
	gs := graphdb.NewMemoryStore()
	mock := embedding.NewMockEmbedder(retrievalTestDim)

	base := &kb.KnowledgeBase{
		DBId:             "kb_test",
		Name:             "retrieval-test",
		Dimension:        retrievalTestDim,
		ActiveCollection: pipeline.CollectionName("kb_test", 1),
		GraphGeneration:  1,
	}
	require.NoError(t, vs.EnsureCollection(ctx, base.ActiveCollection, retrievalTestDim))
	require.NoError(t, vs.BindAlias(ctx, pipeline.AliasName(base.DBId), base.ActiveCollection))

	factory := func(_ context.Context, dim int) (einoEmbedding.Embedder, error) {
		return embedding.NewMockEmbedder(dim), nil
	}
	r, err := NewHybridRetriever(vs, gs, factory, testRetrievalConfig())
	require.NoError(t, err)

	return &retrieverEnv{vs: vs, gs: gs, embedder: mock, retriever: r, base: base}
}

func (e *retrieverEnv) seedChunk(t *testing.T, item repository.VectorUpsertItem) {
	t.Helper()
	ctx := context.Background()
	vecs, err := e.embedder.EmbedStrings(ctx, []string{item.Content})
	require.NoError(t, err)
	item.Vector = make([]float32, retrievalTestDim)
	for i, f := range vecs[0] {
		item.Vector[i] = float32(f)
	}
	item.KBDBId = e.base.DBId
	_, err = e.vs.Upsert(ctx, e.base.ActiveCollection, []repository.VectorUpsertItem{item})
	require.NoError(t, err)
}

func (e *retrieverEnv) seedGraph(t *testing.T, triples []repository.Triple) {
	t.Helper()
	require.NoError(t, e.gs.UpsertTriples(context.Background(), e.base.DBId, e.base.GraphGeneration, triples))
}

func seedShoeCatalog(t *testing.T, env *retrieverEnv) {
	env.seedChunk(t, repository.VectorUpsertItem{
		ID:       "v_shoe1",
		DocId:    "doc_1",
		ChunkId:  "chk_1",
		SKU:      "SHOE-001",
		Brand:    "X",
		Category: "footwear",
		Price:    89.9,
		TagsJSON: `["running","red"]`,
		Content:  "Red Running Shoes, breathable mesh running shoes for daily training",
	})
	env.seedChunk(t, repository.VectorUpsertItem{
		ID:       "v_boot1",
		DocId:    "doc_1",
		ChunkId:  "chk_2",
		SKU:      "BOOT-002",
		Brand:    "Y",
		Category: "footwear",
		Price:    159.0,
		TagsJSON: `["hiking"]`,
		Content:  "Trail Hiking Boots, waterproof leather boots for mountain trails",
	})
	env.seedGraph(t, []repository.Triple{
		{Head: "Red Running Shoes", HeadType: "product", Relation: "HAS_BRAND", Tail: "X", TailType: "brand", Weight: 1.0},
		{Head: "Red Running Shoes", HeadType: "product", Relation: "HAS_TAG", Tail: "running", TailType: "tag", Weight: 0.5},
		{Head: "Trail Hiking Boots", HeadType: "product", Relation: "HAS_BRAND", Tail: "Y", TailType: "brand", Weight: 1.0},
	})
}

func TestRetrieveMergesVectorAndGraphEvidence(t *testing.T) {
	env := newRetrieverEnv(t)
	seedShoeCatalog(t, env)

	cands, trace, err := env.retriever.Retrieve(context.Background(), env.base,
		"running shoes", recommendation.Filters{}, 5)
	require.NoError(t, err)
	require.NotNil(t, trace)
	assert.False(t, trace.Degraded)
	assert.False(t, trace.Partial)
	assert.NotZero(t, trace.VectorHits)

	var shoe *recommendation.Candidate
	for _, c := range cands {
		if c.SKU == "SHOE-001" {
			shoe = c
		}
	}
	require.NotNil(t, shoe, "跑鞋应进入候选集")

	// 向量侧键是 sku，图侧键是标题；byTitle 二级索引把两路合成 dual-evidence
	assert.True(t, shoe.HasVector)
	assert.True(t, shoe.HasGraph)
	assert.True(t, shoe.DualEvidence)
	assert.Positive(t, shoe.GraphScore)

	found := false
	for _, ev := range shoe.Evidence {
		if strings.Contains(ev.Snippet, "running shoes") {
			found = true
		}
	}
	assert.True(t, found, "证据片段应包含查询命中的原文")
}

func TestRetrieveVectorFailureIsFatal(t *testing.T) {
	env := newRetrieverEnv(t)
	seedShoeCatalog(t, env)
	env.vs.FailNextSearch(errors.New("milvus unreachable"))

	cands, trace, err := env.retriever.Retrieve(context.Background(), env.base,
		"running shoes", recommendation.Filters{}, 5)
	assert.ErrorIs(t, err, xerr.ErrRetrievalUnavailable)
	assert.Nil(t, cands)
	require.NotNil(t, trace)
	assert.False(t, trace.Degraded)
}

func TestRetrieveGraphFailureDegrades(t *testing.T) {
	env := newRetrieverEnv(t)
	seedShoeCatalog(t, env)
	env.gs.FailNext(errors.New("neo4j unreachable"))

	cands, trace, err := env.retriever.Retrieve(context.Background(), env.base,
		"running shoes", recommendation.Filters{}, 5)
	require.NoError(t, err)
	require.NotNil(t, trace)
	assert.True(t, trace.Degraded)
	assert.NotEmpty(t, cands)
	for _, c := range cands {
		assert.True(t, c.HasVector, "降级后只剩向量侧候选")
		assert.False(t, c.DualEvidence)
	}
}

func TestRetrieveFiltersExcludeAllWithoutError(t *testing.T) {
	env := newRetrieverEnv(t)
	seedShoeCatalog(t, env)

	// 过滤条件不命中任何商品时是空结果，不是错误
	cands, trace, err := env.retriever.Retrieve(context.Background(), env.base,
		"running shoes", recommendation.Filters{Brands: []string{"Z"}}, 5)
	require.NoError(t, err)
	assert.Empty(t, cands)
	require.NotNil(t, trace)
	assert.False(t, trace.Degraded)
}

func TestRetrieveBrandFilterKeepsMatching(t *testing.T) {
	env := newRetrieverEnv(t)
	seedShoeCatalog(t, env)

	cands, _, err := env.retriever.Retrieve(context.Background(), env.base,
		"footwear for trails", recommendation.Filters{Brands: []string{"y"}}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	for _, c := range cands {
		assert.Equal(t, "Y", c.Brand, "品牌过滤是大小写不敏感的")
	}
}

func TestRetrieveGraphOnlyCandidateDroppedUnderFilters(t *testing.T) {
	env := newRetrieverEnv(t)
	// 只进图不进向量库的商品：无过滤时保留，有过滤时因缺结构化字段被剔除
	env.seedGraph(t, []repository.Triple{
		{Head: "Ghost Sneakers", HeadType: "product", Relation: "HAS_TAG", Tail: "sneakers", TailType: "tag", Weight: 0.5},
	})

	cands, _, err := env.retriever.Retrieve(context.Background(), env.base,
		"Ghost Sneakers", recommendation.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.True(t, cands[0].HasGraph)
	assert.False(t, cands[0].HasVector)

	min := 10.0
	cands, _, err = env.retriever.Retrieve(context.Background(), env.base,
		"Ghost Sneakers", recommendation.Filters{PriceMin: &min}, 5)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestRetrieveEmptyQueryRejected(t *testing.T) {
	env := newRetrieverEnv(t)
	_, _, err := env.retriever.Retrieve(context.Background(), env.base,
		"   ", recommendation.Filters{}, 5)
	require.Error(t, err)
	ce := xerr.From(err)
	assert.Equal(t, xerr.BadRequest, ce.Code)
}

func TestRetrieveTopKClamped(t *testing.T) {
	env := newRetrieverEnv(t)
	seedShoeCatalog(t, env)

	// topK 超过上限时按 maxTopK 截断，不报错
	cands, _, err := env.retriever.Retrieve(context.Background(), env.base,
		"shoes", recommendation.Filters{}, 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(cands), 10*testRetrievalConfig().CandidateMultiple)
}
