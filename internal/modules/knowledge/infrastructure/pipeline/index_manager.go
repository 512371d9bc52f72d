package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/pkg/redis"
	"ShopSage/pkg/util"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"

	"go.uber.org/zap"
)

// IndexManager 编排索引重建（staged swap）：
//
//  1. 新建一个带新代号的向量集合与图代；
//  2. 把 KB 下全部文档重新摄取进暂存代，期间在线查询仍打旧代；
//  3. 全部成功后原子切换：别名指向新集合、KB 行记录新代、图旧代清除；
//  4. 任一步失败或被取消，丢弃暂存代，在线索引不受影响。
//
// 互斥：同一 KB 同时至多一个重建。进程内 registry 是唯一判定点，
// Redis 租约只用于多实例部署时的尽力保护，拿不到 Redis 不阻塞单机路径。
type IndexManager struct {
	kbRepo  repository.KBRepository
	docRepo repository.DocumentRepository
	jobRepo repository.RebuildJobRepository
	vs      repository.VectorStore
	gs      repository.GraphStore
	ingest  *IngestPipeline

	mu      sync.Mutex
	running map[string]*rebuildHandle

	leaseTTL time.Duration
}

type rebuildHandle struct {
	jobID     string
	cancel    context.CancelFunc
	cancelled bool
}

func NewIndexManager(
	kbRepo repository.KBRepository,
	docRepo repository.DocumentRepository,
	jobRepo repository.RebuildJobRepository,
	vs repository.VectorStore,
	gs repository.GraphStore,
	ingest *IngestPipeline,
) *IndexManager {
	return &IndexManager{
		kbRepo:   kbRepo,
		docRepo:  docRepo,
		jobRepo:  jobRepo,
		vs:       vs,
		gs:       gs,
		ingest:   ingest,
		running:  make(map[string]*rebuildHandle),
		leaseTTL: 30 * time.Minute,
	}
}

// CollectionName 某 KB 某代对应的真实集合名
func CollectionName(kbDBId string, generation int64) string {
	return fmt.Sprintf("%s_g%d", kbDBId, generation)
}

// AliasName 查询侧使用的集合别名，始终指向当前代
func AliasName(kbDBId string) string {
	return kbDBId + "_current"
}

// StartRebuild 启动异步重建，返回任务 ID。同 KB 已有重建在跑时返回冲突错误。
func (m *IndexManager) StartRebuild(ctx context.Context, kbDBId string) (string, error) {
	base, err := m.kbRepo.GetByDBId(ctx, kbDBId)
	if err != nil {
		return "", err
	}
	if base == nil {
		return "", xerr.ErrKBNotFound
	}

	jobID := util.GenerateID("rbd")
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if _, ok := m.running[kbDBId]; ok {
		m.mu.Unlock()
		cancel()
		return "", xerr.ErrRebuildInProgress
	}
	m.running[kbDBId] = &rebuildHandle{jobID: jobID, cancel: cancel}
	m.mu.Unlock()

	leaseKey := "shopsage:rebuild:" + kbDBId
	leaseOwner := jobID
	if redis.IsConnected() {
		ok, lockErr := redis.TryLock(ctx, leaseKey, leaseOwner, m.leaseTTL)
		if lockErr == nil && !ok {
			m.release(kbDBId)
			cancel()
			return "", xerr.ErrRebuildInProgress
		}
		if lockErr != nil {
			zlog.Warn("rebuild lease unavailable, in-process lock only",
				zap.String("kb_db_id", kbDBId), zap.Error(lockErr))
		}
	}

	nextGen := base.GraphGeneration + 1
	staged := CollectionName(kbDBId, nextGen)

	job := &kb.RebuildJob{
		JobId:            jobID,
		KBDBId:           kbDBId,
		Status:           kb.RebuildStatusRunning,
		StagedCollection: staged,
		StagedGeneration: nextGen,
		StartedAt:        time.Now(),
	}
	if err := m.jobRepo.Create(ctx, job); err != nil {
		m.release(kbDBId)
		cancel()
		if redis.IsConnected() {
			_ = redis.Unlock(context.Background(), leaseKey, leaseOwner)
		}
		return "", err
	}

	go func() {
		defer func() {
			m.release(kbDBId)
			cancel()
			if redis.IsConnected() {
				_ = redis.Unlock(context.Background(), leaseKey, leaseOwner)
			}
		}()
		m.runRebuild(runCtx, base, job)
	}()

	return jobID, nil
}

func (m *IndexManager) release(kbDBId string) {
	m.mu.Lock()
	delete(m.running, kbDBId)
	m.mu.Unlock()
}

func (m *IndexManager) runRebuild(ctx context.Context, base *kb.KnowledgeBase, job *kb.RebuildJob) {
	start := time.Now()
	kbDBId := base.DBId
	staged := job.StagedCollection
	nextGen := job.StagedGeneration

	fail := func(err error) {
		_ = m.vs.DropCollection(context.Background(), staged)
		_ = m.gs.DropGeneration(context.Background(), kbDBId, nextGen)
		status := kb.RebuildStatusFailed
		if m.wasCancelled(kbDBId, job.JobId) || ctx.Err() != nil {
			status = kb.RebuildStatusCancelled
		}
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		_ = m.jobRepo.UpdateStatus(context.Background(), job.JobId, status, msg)
		zlog.Warn("index rebuild aborted",
			zap.String("kb_db_id", kbDBId),
			zap.String("job_id", job.JobId),
			zap.String("status", status),
			zap.Int64("ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
	}

	if err := m.vs.EnsureCollection(ctx, staged, base.Dimension); err != nil {
		fail(err)
		return
	}

	docs, err := m.docRepo.ListDocumentsByKB(ctx, kbDBId)
	if err != nil {
		fail(err)
		return
	}
	_ = m.jobRepo.SetTotals(ctx, job.JobId, len(docs))

	failedDocs := 0
	stagedResults := make([]*IngestResult, 0, len(docs))
	for _, doc := range docs {
		if ctx.Err() != nil {
			fail(ctx.Err())
			return
		}
		ires, ierr := m.ingest.Ingest(ctx, IngestRequest{
			KBDBId:     kbDBId,
			DocID:      doc.DocId,
			Collection: staged,
			Generation: nextGen,
			StageOnly:  true,
		})
		if ierr != nil {
			failedDocs++
			_ = m.jobRepo.AddCounters(ctx, job.JobId, 0, 1)
			zlog.Warn("rebuild document ingest failed",
				zap.String("doc_id", doc.DocId), zap.Error(ierr))
			continue
		}
		stagedResults = append(stagedResults, ires)
		_ = m.jobRepo.AddCounters(ctx, job.JobId, 1, 0)
	}

	// 只要有文档失败就不切换，旧索引保持可查
	if failedDocs > 0 {
		fail(fmt.Errorf("%d/%d documents failed", failedDocs, len(docs)))
		return
	}
	if ctx.Err() != nil {
		fail(ctx.Err())
		return
	}

	// 提交点：先切别名再落库。别名切换原子，落库失败时把别名切回去。
	alias := AliasName(kbDBId)
	if err := m.vs.BindAlias(ctx, alias, staged); err != nil {
		fail(err)
		return
	}
	if err := m.kbRepo.SwitchActiveIndex(ctx, kbDBId, staged, nextGen); err != nil {
		_ = m.vs.BindAlias(context.Background(), alias, CollectionName(kbDBId, base.GraphGeneration))
		fail(err)
		return
	}
	// 切换成功后才把暂存的切片与向量记录落库，失败或取消的重建不会留下指向已删集合的记录
	for _, r := range stagedResults {
		if err := m.docRepo.ReplaceChunks(context.Background(), r.DocID, r.StagedChunks); err != nil {
			zlog.Error("staged chunk commit failed",
				zap.String("doc_id", r.DocID), zap.Error(err))
			continue
		}
		if err := m.docRepo.ReplaceVectorRecords(context.Background(), r.DocID, r.StagedRecords); err != nil {
			zlog.Error("staged vector record commit failed",
				zap.String("doc_id", r.DocID), zap.Error(err))
			continue
		}
		_ = m.docRepo.UpdateDocumentChunkCount(context.Background(), r.DocID, len(r.StagedChunks))
	}
	if err := m.gs.PromoteGeneration(ctx, kbDBId, nextGen); err != nil {
		zlog.Warn("graph generation promote failed, stale generation remains",
			zap.String("kb_db_id", kbDBId), zap.Error(err))
	}
	oldCollection := CollectionName(kbDBId, base.GraphGeneration)
	if oldCollection != staged && base.ActiveCollection != "" {
		if err := m.vs.DropCollection(context.Background(), base.ActiveCollection); err != nil {
			zlog.Warn("old collection drop failed",
				zap.String("collection", base.ActiveCollection), zap.Error(err))
		}
	}

	_ = m.jobRepo.UpdateStatus(context.Background(), job.JobId, kb.RebuildStatusCompleted, "")
	zlog.Info("index rebuild completed",
		zap.String("kb_db_id", kbDBId),
		zap.String("job_id", job.JobId),
		zap.String("collection", staged),
		zap.Int64("generation", nextGen),
		zap.Int("docs", len(docs)),
		zap.Int64("ms", time.Since(start).Milliseconds()),
	)
}

func (m *IndexManager) wasCancelled(kbDBId, jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.running[kbDBId]
	return ok && h.jobID == jobID && h.cancelled
}

// Cancel 协作式取消：置取消标记并打断 run 上下文，清理由重建协程自己做
func (m *IndexManager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.jobRepo.GetByJobId(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return xerr.New(xerr.NotFound, "rebuild job not found")
	}
	if job.Status != kb.RebuildStatusRunning {
		return xerr.New(xerr.BadRequest, "rebuild job is not running")
	}

	m.mu.Lock()
	h, ok := m.running[job.KBDBId]
	if ok && h.jobID == jobID {
		h.cancelled = true
		h.cancel()
	}
	m.mu.Unlock()

	if !ok {
		// 本进程没有在跑（例如重启后遗留的 running 行），直接修正任务状态
		return m.jobRepo.UpdateStatus(ctx, jobID, kb.RebuildStatusCancelled, "cancelled")
	}
	return nil
}

// GetStatus 查询重建任务
func (m *IndexManager) GetStatus(ctx context.Context, jobID string) (*kb.RebuildJob, error) {
	job, err := m.jobRepo.GetByJobId(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, xerr.New(xerr.NotFound, "rebuild job not found")
	}
	return job, nil
}

// IsRebuilding 指定 KB 是否有进行中的重建（本进程视角）
func (m *IndexManager) IsRebuilding(kbDBId string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[kbDBId]
	return ok
}
