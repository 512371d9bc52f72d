package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/extraction"
	"ShopSage/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// chunkUnit 一个待写入的切片及其结构化元数据
type chunkUnit struct {
	ChunkID  string
	Position int
	Content  string
	Hash     string

	SKU      string
	Brand    string
	Category string
	Price    float64
	TagsJSON string
	MetaJSON string

	Vector []float32
}

type ingestState struct {
	Req *IngestRequest

	KB      *kb.KnowledgeBase
	Doc     *kb.KnowledgeDocument
	Attempt int

	Collection string
	Generation int64

	Units   []chunkUnit
	Triples []repository.Triple

	AttemptedVectorIDs []string
	VectorsOK          int

	Start time.Time
	Err   error
}

func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestRequest, *IngestResult], error) {
	const (
		Validate     = "Validate"
		Chunk        = "Chunk"
		Embed        = "Embed"
		StageVectors = "StageVectors"
		ExtractGraph = "ExtractGraph"
		Commit       = "Commit"
	)

	g := compose.NewGraph[*IngestRequest, *IngestResult]()

	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(Chunk, compose.InvokableLambdaWithOption(p.chunkNode), compose.WithNodeName(Chunk))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(StageVectors, compose.InvokableLambdaWithOption(p.stageVectorsNode), compose.WithNodeName(StageVectors))
	_ = g.AddLambdaNode(ExtractGraph, compose.InvokableLambdaWithOption(p.extractGraphNode), compose.WithNodeName(ExtractGraph))
	_ = g.AddLambdaNode(Commit, compose.InvokableLambdaWithOption(p.commitNode), compose.WithNodeName(Commit))

	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, Chunk)
	_ = g.AddEdge(Chunk, Embed)
	_ = g.AddEdge(Embed, StageVectors)
	_ = g.AddEdge(StageVectors, ExtractGraph)
	_ = g.AddEdge(ExtractGraph, Commit)
	_ = g.AddEdge(Commit, compose.END)

	return g.Compile(ctx, compose.WithGraphName("KnowledgeIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *IngestPipeline) validateNode(ctx context.Context, req *IngestRequest, _ ...any) (*ingestState, error) {
	st := &ingestState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("nil request")
		return st, nil
	}

	req.KBDBId = strings.TrimSpace(req.KBDBId)
	req.DocID = strings.TrimSpace(req.DocID)
	if req.KBDBId == "" || req.DocID == "" {
		st.Err = fmt.Errorf("missing kb_db_id/doc_id")
		return st, nil
	}

	base, err := p.kbRepo.GetByDBId(ctx, req.KBDBId)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if base == nil {
		st.Err = fmt.Errorf("knowledge base not found: %s", req.KBDBId)
		return st, nil
	}
	doc, err := p.docRepo.GetDocument(ctx, req.DocID)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if doc == nil {
		st.Err = fmt.Errorf("document not found: %s", req.DocID)
		return st, nil
	}
	if doc.KBDBId != req.KBDBId {
		st.Err = fmt.Errorf("document %s does not belong to kb %s", req.DocID, req.KBDBId)
		return st, nil
	}
	if strings.TrimSpace(doc.Content) == "" {
		st.Err = fmt.Errorf("document content is empty: %s", req.DocID)
		return st, nil
	}

	st.KB = base
	st.Doc = doc
	st.Collection = strings.TrimSpace(req.Collection)
	if st.Collection == "" {
		st.Collection = base.ActiveCollection
	}
	st.Generation = req.Generation
	if st.Generation <= 0 {
		st.Generation = base.GraphGeneration
	}

	// 暂存模式不动文档状态和尝试计数，文档在旧索引里仍然可用
	if req.StageOnly {
		st.Attempt = doc.Attempt
		return st, nil
	}

	attempt, err := p.docRepo.BumpAttempt(ctx, req.DocID)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Attempt = attempt

	if err := p.docRepo.CreateAttempt(ctx, &kb.IngestAttempt{
		DocId:     req.DocID,
		Attempt:   attempt,
		Status:    kb.DocStatusProcessing,
		StartedAt: time.Now(),
	}); err != nil {
		st.Err = err
		return st, nil
	}
	if err := p.docRepo.UpdateDocumentStatus(ctx, req.DocID, kb.DocStatusProcessing, ""); err != nil {
		st.Err = err
		return st, nil
	}
	return st, nil
}

func (p *IngestPipeline) chunkNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}

	doc := st.Doc
	if products, ok := extraction.ParseProducts(doc.Content); ok {
		st.Units, st.Triples = p.productUnits(doc, products)
		return st, nil
	}

	texts, err := p.chunker.ChunkText(ctx, doc.Content)
	if err != nil {
		st.Err = err
		return st, nil
	}
	units := make([]chunkUnit, 0, len(texts))
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		pos := len(units)
		units = append(units, chunkUnit{
			ChunkID:  fmt.Sprintf("%s_c%d", doc.DocId, pos),
			Position: pos,
			Content:  truncate4096(t),
			Hash:     sha256Hex(t),
			TagsJSON: "[]",
			MetaJSON: buildChunkMetaJSON(doc, pos, i),
		})
		st.Triples = append(st.Triples, p.extractor.FromText(t)...)
	}
	st.Units = units
	return st, nil
}

// productUnits 商品目录文档走结构化路径：一条商品一个切片，
// 切片文本按固定模板渲染，结构化字段直接入向量库做后置过滤。
func (p *IngestPipeline) productUnits(doc *kb.KnowledgeDocument, products []extraction.ProductDoc) ([]chunkUnit, []repository.Triple) {
	units := make([]chunkUnit, 0, len(products))
	var triples []repository.Triple

	for _, prod := range products {
		content := renderProduct(prod)
		if content == "" {
			continue
		}
		pos := len(units)
		tagsJSON := "[]"
		if len(prod.Tags) > 0 {
			if bs, err := json.Marshal(prod.Tags); err == nil {
				tagsJSON = string(bs)
			}
		}
		units = append(units, chunkUnit{
			ChunkID:  fmt.Sprintf("%s_c%d", doc.DocId, pos),
			Position: pos,
			Content:  truncate4096(content),
			Hash:     sha256Hex(content),
			SKU:      strings.TrimSpace(prod.SKU),
			Brand:    strings.TrimSpace(prod.Brand),
			Category: strings.TrimSpace(prod.Category),
			Price:    prod.Price,
			TagsJSON: tagsJSON,
			MetaJSON: buildProductMetaJSON(doc, prod, pos),
		})
		triples = append(triples, p.extractor.FromProduct(prod)...)
	}
	return units, triples
}

func renderProduct(p extraction.ProductDoc) string {
	var b strings.Builder
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = strings.TrimSpace(p.SKU)
	}
	if title == "" {
		return ""
	}
	b.WriteString(title)
	if v := strings.TrimSpace(p.Brand); v != "" {
		b.WriteString(", brand ")
		b.WriteString(v)
	}
	if v := strings.TrimSpace(p.Category); v != "" {
		b.WriteString(", category ")
		b.WriteString(v)
	}
	if len(p.Tags) > 0 {
		b.WriteString(", tags: ")
		b.WriteString(strings.Join(p.Tags, ", "))
	}
	if v := strings.TrimSpace(p.Description); v != "" {
		b.WriteString(". ")
		b.WriteString(v)
	}
	return b.String()
}

func buildChunkMetaJSON(doc *kb.KnowledgeDocument, position, rawIndex int) string {
	bs, err := json.Marshal(map[string]any{
		"filename":    doc.Filename,
		"position":    position,
		"raw_index":   rawIndex,
		"upload_time": doc.UploadTime.Unix(),
	})
	if err != nil {
		return "{}"
	}
	return string(bs)
}

func buildProductMetaJSON(doc *kb.KnowledgeDocument, p extraction.ProductDoc, position int) string {
	bs, err := json.Marshal(map[string]any{
		"filename":    doc.Filename,
		"position":    position,
		"sku":         p.SKU,
		"currency":    p.Currency,
		"upload_time": doc.UploadTime.Unix(),
	})
	if err != nil {
		return "{}"
	}
	return string(bs)
}

func (p *IngestPipeline) embedNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.Units) == 0 {
		return st, nil
	}

	dim := st.KB.Dimension
	for lo := 0; lo < len(st.Units); lo += p.embedBatchSize {
		hi := lo + p.embedBatchSize
		if hi > len(st.Units) {
			hi = len(st.Units)
		}
		texts := make([]string, 0, hi-lo)
		for _, u := range st.Units[lo:hi] {
			texts = append(texts, u.Content)
		}
		vecs, err := p.embedder.EmbedStrings(ctx, texts)
		if err != nil {
			st.Err = err
			return st, nil
		}
		if len(vecs) != len(texts) {
			st.Err = fmt.Errorf("embedding count mismatch, got=%d want=%d", len(vecs), len(texts))
			return st, nil
		}
		for i, v := range vecs {
			if len(v) != dim {
				st.Err = fmt.Errorf("vector dim mismatch, got=%d want=%d", len(v), dim)
				return st, nil
			}
			f32 := make([]float32, dim)
			for j, f := range v {
				f32[j] = float32(f)
			}
			st.Units[lo+i].Vector = f32
		}
	}
	return st, nil
}

func (p *IngestPipeline) stageVectorsNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.Units) == 0 {
		return st, nil
	}

	items := make([]repository.VectorUpsertItem, 0, len(st.Units))
	ids := make([]string, 0, len(st.Units))
	for _, u := range st.Units {
		// 向量 ID 带 attempt，失败补偿只清本次写入，不动上一次成功的数据
		vid := "v_" + sha256Hex(fmt.Sprintf("%s|%s|%d", st.Doc.DocId, u.ChunkID, st.Attempt))[:48]
		items = append(items, repository.VectorUpsertItem{
			ID:       vid,
			Vector:   u.Vector,
			KBDBId:   st.Req.KBDBId,
			DocId:    st.Doc.DocId,
			ChunkId:  u.ChunkID,
			SKU:      u.SKU,
			Brand:    u.Brand,
			Category: u.Category,
			Price:    u.Price,
			TagsJSON: u.TagsJSON,
			Content:  u.Content,
			MetaJSON: u.MetaJSON,
		})
		ids = append(ids, vid)
	}
	st.AttemptedVectorIDs = ids

	upserted, err := p.vs.Upsert(ctx, st.Collection, items)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.VectorsOK = len(upserted)
	return st, nil
}

func (p *IngestPipeline) extractGraphNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.Triples) == 0 {
		return st, nil
	}
	err := p.graphRetry.Do(ctx, func(ctx context.Context) error {
		return p.gs.UpsertTriples(ctx, st.Req.KBDBId, st.Generation, st.Triples)
	})
	if err != nil {
		st.Err = err
	}
	return st, nil
}

// commitNode 终结点。失败路径补偿删除本次向量并落 failed；
// 成功路径删除旧版本向量、整体替换切片与向量记录，再落 completed。
func (p *IngestPipeline) commitNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}

	res := &IngestResult{Attempt: st.Attempt}
	if st.Req != nil {
		res.KBDBId = st.Req.KBDBId
		res.DocID = st.Req.DocID
	}
	res.Chunks = len(st.Units)
	res.Triples = len(st.Triples)
	stageOnly := st.Req != nil && st.Req.StageOnly

	if st.Err != nil {
		if len(st.AttemptedVectorIDs) > 0 {
			if derr := p.vs.DeleteByIDs(ctx, st.Collection, st.AttemptedVectorIDs); derr != nil {
				zlog.Warn("ingest compensation delete failed",
					zap.String("doc_id", res.DocID), zap.Error(derr))
			}
		}
		errMsg := st.Err.Error()
		if st.Doc != nil && !stageOnly {
			_ = p.docRepo.UpdateDocumentStatus(ctx, res.DocID, kb.DocStatusFailed, errMsg)
			_ = p.docRepo.FinishAttempt(ctx, res.DocID, st.Attempt, kb.DocStatusFailed, errMsg, 0)
		}
		res.Status = kb.DocStatusFailed
		res.DurationMs = time.Since(st.Start).Milliseconds()
		zlog.Error("knowledge ingest failed",
			zap.String("kb_db_id", res.KBDBId),
			zap.String("doc_id", res.DocID),
			zap.Int("attempt", st.Attempt),
			zap.Int64("ms", res.DurationMs),
			zap.Error(st.Err),
		)
		return res, st.Err
	}

	now := time.Now()
	chunks := make([]*kb.KnowledgeChunk, 0, len(st.Units))
	records := make([]*kb.VectorRecord, 0, len(st.Units))
	for i, u := range st.Units {
		chunks = append(chunks, &kb.KnowledgeChunk{
			ChunkId:     u.ChunkID,
			DocId:       st.Doc.DocId,
			KBDBId:      st.Req.KBDBId,
			Position:    u.Position,
			Content:     u.Content,
			ContentHash: u.Hash,
			CreatedAt:   now,
		})
		records = append(records, &kb.VectorRecord{
			ChunkId:           u.ChunkID,
			DocId:             st.Doc.DocId,
			Collection:        st.Collection,
			VectorId:          st.AttemptedVectorIDs[i],
			EmbeddingProvider: p.embeddingProvider,
			EmbeddingModel:    p.embeddingModel,
			Dim:               st.KB.Dimension,
			EmbedStatus:       kb.VectorEmbedStatusSucceeded,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	// 暂存模式：元数据随结果返回，在别名切换成功后才落库，
	// 重建失败时旧向量记录保持指向旧集合，后续再摄取仍能按 ID 清旧
	if stageOnly {
		res.StagedChunks = chunks
		res.StagedRecords = records
		res.VectorsOK = st.VectorsOK
		res.Status = kb.DocStatusCompleted
		res.DurationMs = time.Since(st.Start).Milliseconds()
		zlog.Info("knowledge ingest staged",
			zap.String("kb_db_id", res.KBDBId),
			zap.String("doc_id", res.DocID),
			zap.String("collection", st.Collection),
			zap.Int("chunks", res.Chunks),
			zap.Int64("ms", res.DurationMs),
		)
		return res, nil
	}

	oldVectorIDs, err := p.docRepo.ListVectorIDsByDoc(ctx, st.Doc.DocId)
	if err == nil && len(oldVectorIDs) > 0 {
		if derr := p.vs.DeleteByIDs(ctx, st.Collection, oldVectorIDs); derr != nil {
			zlog.Warn("stale vector cleanup failed",
				zap.String("doc_id", res.DocID), zap.Error(derr))
		}
	}

	if err := p.docRepo.ReplaceChunks(ctx, st.Doc.DocId, chunks); err != nil {
		st.Err = err
	} else if err := p.docRepo.ReplaceVectorRecords(ctx, st.Doc.DocId, records); err != nil {
		st.Err = err
	}
	if st.Err != nil {
		_ = p.vs.DeleteByIDs(ctx, st.Collection, st.AttemptedVectorIDs)
		errMsg := st.Err.Error()
		_ = p.docRepo.UpdateDocumentStatus(ctx, res.DocID, kb.DocStatusFailed, errMsg)
		_ = p.docRepo.FinishAttempt(ctx, res.DocID, st.Attempt, kb.DocStatusFailed, errMsg, 0)
		res.Status = kb.DocStatusFailed
		res.DurationMs = time.Since(st.Start).Milliseconds()
		return res, st.Err
	}

	_ = p.docRepo.UpdateDocumentChunkCount(ctx, res.DocID, len(st.Units))
	_ = p.docRepo.UpdateDocumentStatus(ctx, res.DocID, kb.DocStatusCompleted, "")
	_ = p.docRepo.FinishAttempt(ctx, res.DocID, st.Attempt, kb.DocStatusCompleted, "", len(st.Units))

	res.VectorsOK = st.VectorsOK
	res.Status = kb.DocStatusCompleted
	res.DurationMs = time.Since(st.Start).Milliseconds()
	zlog.Info("knowledge ingest done",
		zap.String("kb_db_id", res.KBDBId),
		zap.String("doc_id", res.DocID),
		zap.Int("attempt", st.Attempt),
		zap.Int("chunks", res.Chunks),
		zap.Int("vectors_ok", res.VectorsOK),
		zap.Int("triples", res.Triples),
		zap.Int64("ms", res.DurationMs),
	)
	return res, nil
}
