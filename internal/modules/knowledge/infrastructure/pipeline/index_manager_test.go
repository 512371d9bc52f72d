package pipeline

import (
	"context"
	"testing"
	"time"

	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/infrastructure/chunking"
	"ShopSage/internal/modules/knowledge/infrastructure/embedding"
	"ShopSage/internal/modules/knowledge/infrastructure/graphdb"
	"ShopSage/internal/modules/knowledge/infrastructure/vectordb"
	"ShopSage/pkg/xerr"
)

// gateEmbedder 在放行前阻塞嵌入调用，用于把重建钉在 running 状态
type gateEmbedder struct {
	inner einoEmbedding.Embedder
	gate  chan struct{}
}

func (g *gateEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoEmbedding.Option) ([][]float64, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.EmbedStrings(ctx, texts, opts...)
}

type managerEnv struct {
	*testEnv
	manager *IndexManager
	gate    chan struct{}
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()
	env := &testEnv{
		kbRepo:  newFakeKBRepo(),
		docRepo: newFakeDocRepo(),
		jobRepo: newFakeJobRepo(),
		vs:      vectordb.NewMemoryStore(),
		gs:      graphdb.NewMemoryStore(),
	}
	gate := make(chan struct{})
	p, err := NewIngestPipeline(
		env.kbRepo, env.docRepo, env.vs, env.gs,
		&gateEmbedder{inner: embedding.NewMockEmbedder(testDim), gate: gate},
		chunking.NewSimpleChunker(200, 20),
		"mock", "mock-embedder", 8,
	)
	require.NoError(t, err)
	env.p = p
	return &managerEnv{
		testEnv: env,
		manager: NewIndexManager(env.kbRepo, env.docRepo, env.jobRepo, env.vs, env.gs, p),
		gate:    gate,
	}
}

func (e *managerEnv) waitStatus(t *testing.T, jobID string, want string) *kb.RebuildJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := e.manager.GetStatus(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %q", jobID, want)
	return nil
}

func TestRebuildMutualExclusion(t *testing.T) {
	env := newManagerEnv(t)
	base := env.addKB(t, "kb_rbd01")
	env.addDoc(t, base.DBId, "doc_r1", productCatalog)

	ctx := context.Background()
	jobID, err := env.manager.StartRebuild(ctx, base.DBId)
	require.NoError(t, err)
	require.True(t, env.manager.IsRebuilding(base.DBId))

	// 同一 KB 的第二次触发必须被拒绝
	_, err = env.manager.StartRebuild(ctx, base.DBId)
	assert.ErrorIs(t, err, xerr.ErrRebuildInProgress)

	close(env.gate)
	env.waitStatus(t, jobID, kb.RebuildStatusCompleted)
	assert.False(t, env.manager.IsRebuilding(base.DBId))

	// 完成后可以再次触发
	jobID2, err := env.manager.StartRebuild(ctx, base.DBId)
	require.NoError(t, err)
	env.waitStatus(t, jobID2, kb.RebuildStatusCompleted)
}

func TestRebuildStagedSwap(t *testing.T) {
	env := newManagerEnv(t)
	close(env.gate)

	base := env.addKB(t, "kb_rbd02")
	env.addDoc(t, base.DBId, "doc_s1", productCatalog)

	ctx := context.Background()
	// 先把文档摄入当前代，重建前后数据量应一致
	_, err := env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_s1"})
	require.NoError(t, err)
	require.Equal(t, 2, env.vs.Count(AliasName(base.DBId)))

	jobID, err := env.manager.StartRebuild(ctx, base.DBId)
	require.NoError(t, err)
	job := env.waitStatus(t, jobID, kb.RebuildStatusCompleted)
	assert.Equal(t, 1, job.TotalDocs)
	assert.Equal(t, 1, job.DoneDocs)
	assert.Equal(t, 0, job.FailedDocs)

	// 别名切到新代集合，旧集合与旧图代被清理
	updated, err := env.kbRepo.GetByDBId(ctx, base.DBId)
	require.NoError(t, err)
	assert.Equal(t, CollectionName(base.DBId, 2), updated.ActiveCollection)
	assert.Equal(t, int64(2), updated.GraphGeneration)
	assert.Equal(t, 2, env.vs.Count(AliasName(base.DBId)))
	assert.Equal(t, 0, env.vs.Count(CollectionName(base.DBId, 1)))
	assert.False(t, env.gs.HasGeneration(base.DBId, 1))
	assert.True(t, env.gs.HasGeneration(base.DBId, 2))

	// 切换后向量记录才指向新集合
	for _, rec := range env.docRepo.records["doc_s1"] {
		assert.Equal(t, CollectionName(base.DBId, 2), rec.Collection)
	}
	doc, err := env.docRepo.GetDocument(ctx, "doc_s1")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.ChunkCount)
}

func TestRebuildCancelKeepsOldIndex(t *testing.T) {
	env := newManagerEnv(t)
	base := env.addKB(t, "kb_rbd03")
	env.addDoc(t, base.DBId, "doc_c1", productCatalog)

	ctx := context.Background()
	jobID, err := env.manager.StartRebuild(ctx, base.DBId)
	require.NoError(t, err)

	require.NoError(t, env.manager.Cancel(ctx, jobID))
	job := env.waitStatus(t, jobID, kb.RebuildStatusCancelled)
	assert.NotNil(t, job)

	// 取消不触碰当前索引
	updated, err := env.kbRepo.GetByDBId(ctx, base.DBId)
	require.NoError(t, err)
	assert.Equal(t, CollectionName(base.DBId, 1), updated.ActiveCollection)
	assert.Equal(t, int64(1), updated.GraphGeneration)
	assert.Equal(t, 0, env.vs.Count(CollectionName(base.DBId, 2)))
}

func TestRebuildFailureDropsStagedArtifacts(t *testing.T) {
	env := newManagerEnv(t)
	close(env.gate)

	base := env.addKB(t, "kb_rbd04")
	// 空内容的文档摄取必然失败，重建不应提交
	env.addDoc(t, base.DBId, "doc_f1", "   ")

	ctx := context.Background()
	jobID, err := env.manager.StartRebuild(ctx, base.DBId)
	require.NoError(t, err)
	job := env.waitStatus(t, jobID, kb.RebuildStatusFailed)
	assert.Equal(t, 1, job.FailedDocs)

	updated, err := env.kbRepo.GetByDBId(ctx, base.DBId)
	require.NoError(t, err)
	assert.Equal(t, CollectionName(base.DBId, 1), updated.ActiveCollection)
	assert.Equal(t, int64(1), updated.GraphGeneration)
	assert.Equal(t, 0, env.vs.Count(CollectionName(base.DBId, 2)))
	assert.False(t, env.gs.HasGeneration(base.DBId, 2))
}

func TestRebuildFailureKeepsMetadataOnOldCollection(t *testing.T) {
	env := newManagerEnv(t)
	close(env.gate)

	base := env.addKB(t, "kb_rbd05")
	env.addDoc(t, base.DBId, "doc_good", productCatalog)
	// 空内容文档让重建在暂存阶段失败
	env.addDoc(t, base.DBId, "doc_blank", "   ")

	ctx := context.Background()
	_, err := env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_good"})
	require.NoError(t, err)
	idsBefore, err := env.docRepo.ListVectorIDsByDoc(ctx, "doc_good")
	require.NoError(t, err)
	require.Len(t, idsBefore, 2)

	jobID, err := env.manager.StartRebuild(ctx, base.DBId)
	require.NoError(t, err)
	env.waitStatus(t, jobID, kb.RebuildStatusFailed)

	// 失败的重建不碰向量记录，记录仍指向在线集合里真实存在的 ID
	idsAfter, err := env.docRepo.ListVectorIDsByDoc(ctx, "doc_good")
	require.NoError(t, err)
	assert.Equal(t, idsBefore, idsAfter)
	for _, rec := range env.docRepo.records["doc_good"] {
		assert.Equal(t, CollectionName(base.DBId, 1), rec.Collection)
	}

	// 重建失败后再摄取，按 ID 清旧仍然生效，不会留下重复向量
	_, err = env.p.Ingest(ctx, IngestRequest{KBDBId: base.DBId, DocID: "doc_good"})
	require.NoError(t, err)
	assert.Equal(t, 2, env.vs.Count(AliasName(base.DBId)))
}
