package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
)

// 进程内仓储桩。行为对齐 gorm 实现：未命中返回 (nil, nil)。

type fakeKBRepo struct {
	mu    sync.Mutex
	bases map[string]*kb.KnowledgeBase
}

func newFakeKBRepo() *fakeKBRepo {
	return &fakeKBRepo{bases: make(map[string]*kb.KnowledgeBase)}
}

func (r *fakeKBRepo) Create(_ context.Context, b *kb.KnowledgeBase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bases[b.DBId] = b
	return nil
}

func (r *fakeKBRepo) GetByDBId(_ context.Context, dbID string) (*kb.KnowledgeBase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bases[dbID]
	if !ok || b.Status == kb.KBStatusDeleted {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *fakeKBRepo) List(_ context.Context) ([]*kb.KnowledgeBase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*kb.KnowledgeBase
	for _, b := range r.bases {
		if b.Status != kb.KBStatusDeleted {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeKBRepo) Update(_ context.Context, dbID string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bases[dbID]
	if !ok {
		return fmt.Errorf("kb not found: %s", dbID)
	}
	if v, ok := updates["name"]; ok {
		b.Name = v.(string)
	}
	return nil
}

func (r *fakeKBRepo) SoftDelete(_ context.Context, dbID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bases[dbID]; ok {
		b.Status = kb.KBStatusDeleted
	}
	return nil
}

func (r *fakeKBRepo) SwitchActiveIndex(_ context.Context, dbID, collection string, graphGeneration int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bases[dbID]
	if !ok {
		return fmt.Errorf("kb not found: %s", dbID)
	}
	b.ActiveCollection = collection
	b.GraphGeneration = graphGeneration
	return nil
}

type fakeDocRepo struct {
	mu       sync.Mutex
	docs     map[string]*kb.KnowledgeDocument
	attempts []*kb.IngestAttempt
	chunks   map[string][]*kb.KnowledgeChunk
	records  map[string][]*kb.VectorRecord
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{
		docs:    make(map[string]*kb.KnowledgeDocument),
		chunks:  make(map[string][]*kb.KnowledgeChunk),
		records: make(map[string][]*kb.VectorRecord),
	}
}

func (r *fakeDocRepo) CreateDocument(_ context.Context, doc *kb.KnowledgeDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.UpdatedAt = time.Now()
	r.docs[doc.DocId] = doc
	return nil
}

func (r *fakeDocRepo) GetDocument(_ context.Context, docID string) (*kb.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDocRepo) ListDocumentsByKB(_ context.Context, kbDBId string) ([]*kb.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*kb.KnowledgeDocument
	for _, d := range r.docs {
		if d.KBDBId == kbDBId {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDocRepo) UpdateDocumentStatus(_ context.Context, docID, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[docID]; ok {
		d.ProcessingStatus = status
		d.ErrorMsg = errMsg
		d.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeDocRepo) UpdateDocumentChunkCount(_ context.Context, docID string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[docID]; ok {
		d.ChunkCount = count
	}
	return nil
}

func (r *fakeDocRepo) BumpAttempt(_ context.Context, docID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docID]
	if !ok {
		return 0, fmt.Errorf("document not found: %s", docID)
	}
	d.Attempt++
	return d.Attempt, nil
}

func (r *fakeDocRepo) ListStaleProcessing(_ context.Context, olderThan time.Time, limit int) ([]*kb.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*kb.KnowledgeDocument
	for _, d := range r.docs {
		if d.ProcessingStatus == kb.DocStatusProcessing && d.UpdatedAt.Before(olderThan) {
			cp := *d
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeDocRepo) DeleteDocument(_ context.Context, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, docID)
	delete(r.chunks, docID)
	delete(r.records, docID)
	return nil
}

func (r *fakeDocRepo) CreateAttempt(_ context.Context, at *kb.IngestAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *at
	r.attempts = append(r.attempts, &cp)
	return nil
}

func (r *fakeDocRepo) FinishAttempt(_ context.Context, docID string, attempt int, status, errMsg string, chunksWritten int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, at := range r.attempts {
		if at.DocId == docID && at.Attempt == attempt {
			at.Status = status
			at.ErrorMsg = errMsg
			at.ChunksWritten = chunksWritten
			at.FinishedAt.Time = time.Now()
			at.FinishedAt.Valid = true
		}
	}
	return nil
}

func (r *fakeDocRepo) ListAttempts(_ context.Context, docID string) ([]*kb.IngestAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*kb.IngestAttempt
	for _, at := range r.attempts {
		if at.DocId == docID {
			cp := *at
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDocRepo) ReplaceChunks(_ context.Context, docID string, chunks []*kb.KnowledgeChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks[docID] = chunks
	return nil
}

func (r *fakeDocRepo) ListChunksByDoc(_ context.Context, docID string) ([]*kb.KnowledgeChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks[docID], nil
}

func (r *fakeDocRepo) DeleteChunksByDoc(_ context.Context, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, docID)
	return nil
}

func (r *fakeDocRepo) CountChunksByKB(_ context.Context, kbDBId string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for docID, cs := range r.chunks {
		if d, ok := r.docs[docID]; ok && d.KBDBId == kbDBId {
			n += int64(len(cs))
		}
	}
	return n, nil
}

func (r *fakeDocRepo) ReplaceVectorRecords(_ context.Context, docID string, records []*kb.VectorRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[docID] = records
	return nil
}

func (r *fakeDocRepo) UpdateVectorStatus(_ context.Context, vectorID string, status int8, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, recs := range r.records {
		for _, rec := range recs {
			if rec.VectorId == vectorID {
				rec.EmbedStatus = status
				rec.ErrorMsg = errMsg
			}
		}
	}
	return nil
}

func (r *fakeDocRepo) ListVectorIDsByDoc(_ context.Context, docID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.records[docID] {
		out = append(out, rec.VectorId)
	}
	return out, nil
}

func (r *fakeDocRepo) DeleteVectorRecordsByDoc(_ context.Context, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, docID)
	return nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*kb.RebuildJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*kb.RebuildJob)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *kb.RebuildJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.JobId] = &cp
	return nil
}

func (r *fakeJobRepo) GetByJobId(_ context.Context, jobID string) (*kb.RebuildJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) GetLatestByKB(_ context.Context, kbDBId string) (*kb.RebuildJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *kb.RebuildJob
	for _, j := range r.jobs {
		if j.KBDBId != kbDBId {
			continue
		}
		if latest == nil || j.StartedAt.After(latest.StartedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, jobID, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.Status = status
		j.ErrorMsg = errMsg
		if status != kb.RebuildStatusRunning {
			j.FinishedAt.Time = time.Now()
			j.FinishedAt.Valid = true
		}
	}
	return nil
}

func (r *fakeJobRepo) AddCounters(_ context.Context, jobID string, doneDelta, failedDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.DoneDocs += doneDelta
		j.FailedDocs += failedDelta
	}
	return nil
}

func (r *fakeJobRepo) SetTotals(_ context.Context, jobID string, totalDocs int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.TotalDocs = totalDocs
	}
	return nil
}

var (
	_ repository.KBRepository         = (*fakeKBRepo)(nil)
	_ repository.DocumentRepository   = (*fakeDocRepo)(nil)
	_ repository.RebuildJobRepository = (*fakeJobRepo)(nil)
)
