package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ShopSage/internal/config"
	"ShopSage/internal/modules/knowledge/domain/kb"
	krepo "ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/pipeline"
	"ShopSage/internal/modules/recommend/domain/recommendation"
	"ShopSage/pkg/util"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

// EmbedderFactory 按维度构造嵌入器。不同 KB 维度不同，构造结果按维度缓存。
type EmbedderFactory func(ctx context.Context, dim int) (embedding.Embedder, error)

// HybridRetriever 双通道召回：
//
//	向量通道是主信号，查询向量对两个通道只算一次；
//	图通道做实体链接 + 子图扩展，失败仅降级（trace 标记 degraded）；
//	向量通道故障则整个查询以 RetrievalUnavailable 失败；
//	查询级总超时到期时返回已有的部分结果并标记 partial。
type HybridRetriever struct {
	vs krepo.VectorStore
	gs krepo.GraphStore

	factory EmbedderFactory

	mu        sync.Mutex
	embedders map[int]embedding.Embedder

	conf config.RetrievalConfig
}

func NewHybridRetriever(vs krepo.VectorStore, gs krepo.GraphStore, factory EmbedderFactory, conf config.RetrievalConfig) (*HybridRetriever, error) {
	if vs == nil {
		return nil, errors.New("vector store is nil")
	}
	if gs == nil {
		return nil, errors.New("graph store is nil")
	}
	if factory == nil {
		return nil, errors.New("embedder factory is nil")
	}
	return &HybridRetriever{
		vs:        vs,
		gs:        gs,
		factory:   factory,
		embedders: make(map[int]embedding.Embedder),
		conf:      conf,
	}, nil
}

func (r *HybridRetriever) embedderFor(ctx context.Context, dim int) (embedding.Embedder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.embedders[dim]; ok {
		return e, nil
	}
	e, err := r.factory(ctx, dim)
	if err != nil {
		return nil, err
	}
	r.embedders[dim] = e
	return e, nil
}

type vectorResult struct {
	hits []krepo.VectorSearchHit
	ms   int64
	err  error
}

type graphResult struct {
	candidates map[string]*recommendation.Candidate
	hits       int
	ms         int64
	err        error
}

// Retrieve 对指定 KB 执行混合召回，返回合并后的候选集（融合前）与查询 trace
func (r *HybridRetriever) Retrieve(ctx context.Context, base *kb.KnowledgeBase, queryText string, filters recommendation.Filters, topK int) ([]*recommendation.Candidate, *recommendation.Trace, error) {
	start := time.Now()
	trace := &recommendation.Trace{TraceID: util.GenerateID("trc")}

	queryText = strings.TrimSpace(queryText)
	if base == nil {
		return nil, trace, xerr.ErrKBNotFound
	}
	if queryText == "" {
		return nil, trace, xerr.New(xerr.BadRequest, "empty query")
	}
	if topK <= 0 {
		topK = r.conf.DefaultTopK
	}
	if topK > r.conf.MaxTopK {
		topK = r.conf.MaxTopK
	}

	overall, cancel := context.WithTimeout(ctx, time.Duration(r.conf.QueryTimeoutMs)*time.Millisecond)
	defer cancel()

	// 查询向量只算一次，两个通道共用
	embStart := time.Now()
	embedder, err := r.embedderFor(overall, base.Dimension)
	if err != nil {
		return nil, trace, xerr.ErrRetrievalUnavailable
	}
	embCtx, embCancel := context.WithTimeout(overall, time.Duration(r.conf.PerCallTimeoutMs)*time.Millisecond)
	vecs, err := embedder.EmbedStrings(embCtx, []string{queryText})
	embCancel()
	trace.EmbedMs = time.Since(embStart).Milliseconds()
	if err != nil || len(vecs) != 1 || len(vecs[0]) != base.Dimension {
		zlog.Warn("query embedding failed",
			zap.String("kb_db_id", base.DBId), zap.Error(err))
		return nil, trace, xerr.ErrRetrievalUnavailable
	}
	queryVec := make([]float32, base.Dimension)
	for i, f := range vecs[0] {
		queryVec[i] = float32(f)
	}

	candidateN := topK * r.conf.CandidateMultiple
	if candidateN < topK {
		candidateN = topK
	}

	vecCh := make(chan vectorResult, 1)
	graphCh := make(chan graphResult, 1)

	go func() {
		t := time.Now()
		callCtx, callCancel := context.WithTimeout(overall, time.Duration(r.conf.PerCallTimeoutMs)*time.Millisecond)
		defer callCancel()
		expr := fmt.Sprintf(`kb_db_id == "%s"`, base.DBId)
		hits, verr := r.vs.Search(callCtx, pipeline.AliasName(base.DBId), queryVec, candidateN, expr)
		vecCh <- vectorResult{hits: hits, ms: time.Since(t).Milliseconds(), err: verr}
	}()

	go func() {
		t := time.Now()
		callCtx, callCancel := context.WithTimeout(overall, time.Duration(r.conf.PerCallTimeoutMs)*time.Millisecond)
		defer callCancel()
		cands, hits, gerr := r.graphChannel(callCtx, base, queryText)
		graphCh <- graphResult{candidates: cands, hits: hits, ms: time.Since(t).Milliseconds(), err: gerr}
	}()

	var vres vectorResult
	var gres graphResult
	vDone, gDone := false, false
	for !(vDone && gDone) {
		select {
		case vres = <-vecCh:
			vDone = true
		case gres = <-graphCh:
			gDone = true
		case <-overall.Done():
			// 总预算到期：带着已完成的通道结果继续，不报错
			trace.Partial = true
			trace.Notes = append(trace.Notes, "query timeout, partial results")
			if !vDone {
				vres = vectorResult{err: overall.Err()}
				vDone = true
			}
			if !gDone {
				gres = graphResult{err: overall.Err()}
				gDone = true
			}
		}
	}
	trace.VectorMs = vres.ms
	trace.GraphMs = gres.ms

	if vres.err != nil {
		if trace.Partial {
			// 超时路径：向量通道缺席时只能靠图候选
			vres.hits = nil
		} else {
			zlog.Error("vector retrieval failed",
				zap.String("kb_db_id", base.DBId), zap.Error(vres.err))
			return nil, trace, xerr.ErrRetrievalUnavailable
		}
	}
	if gres.err != nil {
		trace.Degraded = true
		trace.Notes = append(trace.Notes, "graph channel unavailable, vector-only")
		zlog.Warn("graph retrieval degraded",
			zap.String("kb_db_id", base.DBId), zap.Error(gres.err))
	}

	merged := r.merge(vres.hits, gres.candidates, filters)
	trace.VectorHits = len(vres.hits)
	trace.GraphHits = gres.hits
	trace.TotalMs = time.Since(start).Milliseconds()
	return merged, trace, nil
}

// graphChannel 实体链接 + 子图扩展，产出图侧候选（键与向量侧一致）
func (r *HybridRetriever) graphChannel(ctx context.Context, base *kb.KnowledgeBase, queryText string) (map[string]*recommendation.Candidate, int, error) {
	depth := r.conf.ExpandDepth
	if base.ExpandDepth.Valid && base.ExpandDepth.Int64 > 0 {
		depth = int(base.ExpandDepth.Int64)
	}

	mentions := entityMentions(queryText, r.conf.EntityLinkMaxNames)
	seen := map[string]bool{}
	var linked []krepo.GraphEntity
	for _, m := range mentions {
		ents, err := r.gs.MatchEntities(ctx, base.DBId, base.GraphGeneration, m, r.conf.EntityLinkMaxNames)
		if err != nil {
			return nil, 0, err
		}
		for _, e := range ents {
			if !seen[e.Name] {
				seen[e.Name] = true
				linked = append(linked, e)
			}
		}
	}
	if len(linked) == 0 {
		return map[string]*recommendation.Candidate{}, 0, nil
	}

	out := make(map[string]*recommendation.Candidate)
	hits := 0
	budget := r.conf.ExpandNodeBudget
	for _, ent := range linked {
		sg, err := r.gs.Expand(ctx, base.DBId, base.GraphGeneration, ent.Name, depth, budget)
		if err != nil {
			return nil, 0, err
		}
		for _, edge := range sg.Edges {
			// 产品为头实体的边；哪端是产品由节点类型判定
			prodName, otherName := edge.SourceName, edge.TargetName
			if nodeType(sg, prodName) != "product" {
				prodName, otherName = edge.TargetName, edge.SourceName
				if nodeType(sg, prodName) != "product" {
					continue
				}
			}
			key := candidateKey("", prodName)
			c, ok := out[key]
			if !ok {
				c = &recommendation.Candidate{
					Key:      key,
					Title:    prodName,
					HasGraph: true,
				}
				out[key] = c
				hits++
			}
			c.GraphScore += edge.Weight
			c.Evidence = append(c.Evidence, recommendation.Evidence{
				Type:     recommendation.EvidenceTypeDoc,
				SourceID: fmt.Sprintf("graph:%s-[%s]->%s", edge.SourceName, edge.Type, edge.TargetName),
				Snippet:  fmt.Sprintf("%s %s %s", prodName, strings.ToLower(strings.ReplaceAll(edge.Type, "_", " ")), otherName),
				Score:    edge.Weight,
			})
		}
	}
	return out, hits, nil
}

func nodeType(sg *krepo.Subgraph, name string) string {
	for _, n := range sg.Nodes {
		if n.Name == name {
			return n.Type
		}
	}
	return ""
}

// merge 合并两路候选：同 key 合并为 dual-evidence，结构化过滤在此做后置
func (r *HybridRetriever) merge(hits []krepo.VectorSearchHit, graphCands map[string]*recommendation.Candidate, filters recommendation.Filters) []*recommendation.Candidate {
	out := make(map[string]*recommendation.Candidate, len(hits)+len(graphCands))
	// 向量候选可能以 sku 为键，图候选只有标题；按标题建二级索引用于跨通道合并
	byTitle := make(map[string]*recommendation.Candidate, len(hits))

	for _, h := range hits {
		title := titleFromContent(h.Content)
		key := candidateKey(h.SKU, title)
		if key == "" {
			key = h.DocId + "|" + h.ChunkId
		}
		c, ok := out[key]
		if !ok {
			c = &recommendation.Candidate{
				Key:      key,
				SKU:      h.SKU,
				Title:    title,
				Price:    h.Price,
				Brand:    h.Brand,
				Category: h.Category,
				Tags:     parseTags(h.TagsJSON),
				DocID:    h.DocId,
				ChunkID:  h.ChunkId,
				Content:  h.Content,
			}
			out[key] = c
		}
		if tk := candidateKey("", title); tk != "" {
			byTitle[tk] = c
		}
		if float64(h.Score) > c.VectorScore || !c.HasVector {
			c.VectorScore = float64(h.Score)
		}
		if ts := uploadTimeFromMeta(h.MetaJSON); ts > c.UploadedAt {
			c.UploadedAt = ts
		}
		c.HasVector = true
		c.Evidence = append(c.Evidence, recommendation.Evidence{
			Type:     recommendation.EvidenceTypeDoc,
			SourceID: h.ChunkId,
			Snippet:  snippet(h.Content),
			Score:    float64(h.Score),
		})
	}

	for key, gc := range graphCands {
		c, ok := out[key]
		if !ok {
			c = byTitle[key]
		}
		if c != nil {
			c.HasGraph = true
			c.GraphScore = gc.GraphScore
			c.DualEvidence = true
			c.Evidence = append(c.Evidence, gc.Evidence...)
			continue
		}
		out[key] = gc
	}

	result := make([]*recommendation.Candidate, 0, len(out))
	for _, c := range out {
		if !matchFilters(c, filters) {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// matchFilters 结构化过滤。图独占候选缺少结构化字段，只有在
// 无过滤条件时才保留，避免把不满足过滤的商品放进结果。
func matchFilters(c *recommendation.Candidate, f recommendation.Filters) bool {
	if f.Empty() {
		return true
	}
	if !c.HasVector {
		return false
	}
	if f.PriceMin != nil && c.Price < *f.PriceMin {
		return false
	}
	if f.PriceMax != nil && c.Price > *f.PriceMax {
		return false
	}
	if len(f.Brands) > 0 && !containsFold(f.Brands, c.Brand) {
		return false
	}
	if len(f.Categories) > 0 && !containsFold(f.Categories, c.Category) {
		return false
	}
	if len(f.Tags) > 0 {
		matched := false
		for _, want := range f.Tags {
			if containsFold(c.Tags, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

func candidateKey(sku, title string) string {
	if s := strings.TrimSpace(sku); s != "" {
		return "sku:" + strings.ToLower(s)
	}
	if t := strings.TrimSpace(title); t != "" {
		return "title:" + strings.ToLower(t)
	}
	return ""
}

// titleFromContent 切片文本的首个子句当作商品标题（摄取侧按同样模板渲染）
func titleFromContent(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.IndexAny(s, ",，.。\n"); i > 0 {
		s = s[:i]
	}
	r := []rune(strings.TrimSpace(s))
	if len(r) > 64 {
		r = r[:64]
	}
	return string(r)
}

func snippet(content string) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) > 200 {
		return string(r[:200]) + "…"
	}
	return string(r)
}

// uploadTimeFromMeta 摄取侧把来源文档上传时间写进向量元数据，融合并列分时用
func uploadTimeFromMeta(metaJSON string) int64 {
	metaJSON = strings.TrimSpace(metaJSON)
	if metaJSON == "" || metaJSON == "{}" {
		return 0
	}
	var meta struct {
		UploadTime int64 `json:"upload_time"`
	}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return 0
	}
	return meta.UploadTime
}

func parseTags(tagsJSON string) []string {
	tagsJSON = strings.TrimSpace(tagsJSON)
	if tagsJSON == "" || tagsJSON == "[]" {
		return nil
	}
	var tags []string
	trimmed := strings.Trim(tagsJSON, "[]")
	for _, part := range strings.Split(trimmed, ",") {
		t := strings.Trim(strings.TrimSpace(part), `"`)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// entityMentions 从查询文本提取实体提及：整句 + 滑动 n-gram，限量
func entityMentions(queryText string, max int) []string {
	if max <= 0 {
		max = 5
	}
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] || len(out) >= max {
			return
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}

	add(queryText)
	words := strings.Fields(queryText)
	for n := 2; n >= 1 && len(out) < max; n-- {
		for i := 0; i+n <= len(words) && len(out) < max; i++ {
			add(strings.Join(words[i:i+n], " "))
		}
	}
	return out
}
