package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/infrastructure/chunking"
	"ShopSage/internal/modules/knowledge/infrastructure/embedding"
	"ShopSage/internal/modules/knowledge/infrastructure/graphdb"
	"ShopSage/internal/modules/knowledge/infrastructure/vectordb"
)

const testDim = 16

const productCatalog = `[
  {"sku": "SHOE-001", "title": "red running shoes", "price": 59.9, "currency": "USD",
   "brand": "X", "category": "footwear", "tags": ["running", "red"],
   "description": "lightweight shoes built for daily runs"},
  {"sku": "SHOE-002", "title": "trail hiking boots", "price": 129.0, "currency": "USD",
   "brand": "Y", "category": "footwear", "tags": ["hiking"],
   "description": "waterproof boots for rough trails"}
]`

type testEnv struct {
	kbRepo  *fakeKBRepo
	docRepo *fakeDocRepo
	jobRepo *fakeJobRepo
	vs      *vectordb.MemoryStore
	gs      *graphdb.MemoryStore
	p       *IngestPipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		kbRepo:  newFakeKBRepo(),
		docRepo: newFakeDocRepo(),
		jobRepo: newFakeJobRepo(),
		vs:      vectordb.NewMemoryStore(),
		gs:      graphdb.NewMemoryStore(),
	}
	p, err := NewIngestPipeline(
		env.kbRepo, env.docRepo, env.vs, env.gs,
		embedding.NewMockEmbedder(testDim),
		chunking.NewSimpleChunker(200, 20),
		"mock", "mock-embedder", 8,
	)
	require.NoError(t, err)
	env.p = p
	return env
}

func (e *testEnv) addKB(t *testing.T, dbID string) *kb.KnowledgeBase {
	t.Helper()
	ctx := context.Background()
	collection := CollectionName(dbID, 1)
	require.NoError(t, e.vs.EnsureCollection(ctx, collection, testDim))
	require.NoError(t, e.vs.BindAlias(ctx, AliasName(dbID), collection))
	base := &kb.KnowledgeBase{
		DBId:             dbID,
		Name:             "test kb",
		Dimension:        testDim,
		ChunkSize:        200,
		ChunkOverlap:     20,
		ActiveCollection: collection,
		GraphGeneration:  1,
		Status:           kb.KBStatusActive,
	}
	require.NoError(t, e.kbRepo.Create(ctx, base))
	return base
}

func (e *testEnv) addDoc(t *testing.T, kbDBId, docID, content string) *kb.KnowledgeDocument {
	t.Helper()
	doc := &kb.KnowledgeDocument{
		DocId:            docID,
		KBDBId:           kbDBId,
		Filename:         docID + ".json",
		ContentType:      "application/json",
		SizeBytes:        int64(len(content)),
		Content:          content,
		ProcessingStatus: kb.DocStatusPending,
		UploadTime:       time.Now(),
	}
	require.NoError(t, e.docRepo.CreateDocument(context.Background(), doc))
	return doc
}

func TestIngestProductCatalog(t *testing.T) {
	env := newTestEnv(t)
	base := env.addKB(t, "kb_test01")
	env.addDoc(t, base.DBId, "doc_cat", productCatalog)

	res, err := env.p.Ingest(context.Background(), IngestRequest{KBDBId: base.DBId, DocID: "doc_cat"})
	require.NoError(t, err)
	assert.Equal(t, kb.DocStatusCompleted, res.Status)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.VectorsOK)
	assert.Equal(t, 1, res.Attempt)

	// 每条商品一个向量，经别名可查
	assert.Equal(t, 2, env.vs.Count(AliasName(base.DBId)))

	doc, err := env.docRepo.GetDocument(context.Background(), "doc_cat")
	require.NoError(t, err)
	assert.Equal(t, kb.DocStatusCompleted, doc.ProcessingStatus)
	assert.Equal(t, 2, doc.ChunkCount)

	// 品牌、品类、标签进图
	assert.Greater(t, env.gs.NodeCount(base.DBId, 1), 2)
	labels, err := env.gs.Labels(context.Background(), base.DBId, 1)
	require.NoError(t, err)
	assert.Contains(t, labels, "product")
	assert.Contains(t, labels, "brand")
}

func TestIngestCompensatesOnVectorFailure(t *testing.T) {
	env := newTestEnv(t)
	base := env.addKB(t, "kb_test02")
	env.addDoc(t, base.DBId, "doc_bad", productCatalog)

	env.vs.FailNextUpsert(errors.New("vector store unavailable"))

	_, err := env.p.Ingest(context.Background(), IngestRequest{KBDBId: base.DBId, DocID: "doc_bad"})
	require.Error(t, err)

	// 失败的尝试不留任何向量
	assert.Equal(t, 0, env.vs.Count(base.ActiveCollection))

	doc, err := env.docRepo.GetDocument(context.Background(), "doc_bad")
	require.NoError(t, err)
	assert.Equal(t, kb.DocStatusFailed, doc.ProcessingStatus)
	assert.NotEmpty(t, doc.ErrorMsg)

	attempts, err := env.docRepo.ListAttempts(context.Background(), "doc_bad")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, kb.DocStatusFailed, attempts[0].Status)
}

func TestReingestReplacesPreviousVectors(t *testing.T) {
	env := newTestEnv(t)
	base := env.addKB(t, "kb_test03")
	env.addDoc(t, base.DBId, "doc_re", productCatalog)

	ctx := context.Background()
	_, err := env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_re"})
	require.NoError(t, err)
	firstIDs, err := env.docRepo.ListVectorIDsByDoc(ctx, "doc_re")
	require.NoError(t, err)
	require.Len(t, firstIDs, 2)

	res, err := env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_re"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempt)

	// 旧向量被清掉，集合里只有第二次的两条
	assert.Equal(t, 2, env.vs.Count(base.ActiveCollection))
	secondIDs, err := env.docRepo.ListVectorIDsByDoc(ctx, "doc_re")
	require.NoError(t, err)
	require.Len(t, secondIDs, 2)
	assert.NotEqual(t, firstIDs[0], secondIDs[0])
}

func TestReingestSameContentIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	base := env.addKB(t, "kb_test06")
	env.addDoc(t, base.DBId, "doc_same", productCatalog)

	ctx := context.Background()
	_, err := env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_same"})
	require.NoError(t, err)
	first, err := env.docRepo.ListChunksByDoc(ctx, "doc_same")
	require.NoError(t, err)
	require.Len(t, first, 2)

	_, err = env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_same"})
	require.NoError(t, err)
	second, err := env.docRepo.ListChunksByDoc(ctx, "doc_same")
	require.NoError(t, err)
	require.Len(t, second, 2)

	// 内容没变，切片 ID 与内容指纹逐条一致，向量总数也不增长
	for i := range first {
		assert.Equal(t, first[i].ChunkId, second[i].ChunkId)
		assert.Equal(t, first[i].ContentHash, second[i].ContentHash)
		assert.Equal(t, first[i].Position, second[i].Position)
	}
	assert.Equal(t, 2, env.vs.Count(base.ActiveCollection))
}

func TestIngestFailedAttemptKeepsPreviousVersionQueryable(t *testing.T) {
	env := newTestEnv(t)
	base := env.addKB(t, "kb_test04")
	env.addDoc(t, base.DBId, "doc_keep", productCatalog)

	ctx := context.Background()
	_, err := env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_keep"})
	require.NoError(t, err)

	env.vs.FailNextUpsert(errors.New("transient outage"))
	_, err = env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_keep"})
	require.Error(t, err)

	// 第一次成功写入的向量仍在
	assert.Equal(t, 2, env.vs.Count(base.ActiveCollection))
}

func TestIngestRejectsForeignDocument(t *testing.T) {
	env := newTestEnv(t)
	a := env.addKB(t, "kb_owner_a")
	env.addKB(t, "kb_owner_b")
	env.addDoc(t, a.DBId, "doc_a", productCatalog)

	_, err := env.p.Ingest(context.Background(), IngestRequest{KBDBId: "kb_owner_b", DocID: "doc_a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong")
}

func TestIngestPlainTextDocument(t *testing.T) {
	env := newTestEnv(t)
	base := env.addKB(t, "kb_test05")
	env.addDoc(t, base.DBId, "doc_txt",
		"Trail runners prefer lightweight shoes. brand: X makes cushioned midsoles for long distances.")

	res, err := env.p.Ingest(context.Background(), IngestRequest{KBDBId: base.DBId, DocID: "doc_txt"})
	require.NoError(t, err)
	assert.Equal(t, kb.DocStatusCompleted, res.Status)
	assert.Greater(t, res.Chunks, 0)
	assert.Equal(t, res.Chunks, env.vs.Count(base.ActiveCollection))
}
