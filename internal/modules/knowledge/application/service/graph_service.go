package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"

	"ShopSage/internal/modules/knowledge/application/dto/respond"
	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"
)

// EmbedderFactory 按维度构造嵌入器（实体向量补建要求与 KB 维度一致）
type EmbedderFactory func(ctx context.Context, dim int) (embedding.Embedder, error)

type GraphService interface {
	Subgraph(ctx context.Context, kbDBId, entityName string, depth, nodeBudget int) (*respond.SubgraphResponse, error)
	SampleNodes(ctx context.Context, kbDBId string, num int) (*respond.SubgraphResponse, error)
	Labels(ctx context.Context, kbDBId string) ([]string, error)
	Stats(ctx context.Context, kbDBId string) (*repository.GraphStats, error)
	// Node 按名称查询单个实体及其一跳邻接
	Node(ctx context.Context, kbDBId, entityName string) (*respond.NodeResponse, error)
	// BulkAddTriples 批量导入 JSONL 三元组到当前代
	BulkAddTriples(ctx context.Context, kbDBId string, data []byte) (*respond.BulkTriplesResult, error)
	// IndexEntities 为当前代中尚无向量的实体名补建嵌入
	IndexEntities(ctx context.Context, kbDBId string, batch int) (*respond.IndexEntitiesResult, error)
}

type graphService struct {
	kbRepo  repository.KBRepository
	gs      repository.GraphStore
	factory EmbedderFactory
}

func NewGraphService(kbRepo repository.KBRepository, gs repository.GraphStore, factory EmbedderFactory) GraphService {
	return &graphService{kbRepo: kbRepo, gs: gs, factory: factory}
}

func (s *graphService) base(ctx context.Context, kbDBId string) (*kb.KnowledgeBase, error) {
	b, err := s.kbRepo.GetByDBId(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, xerr.ErrKBNotFound
	}
	return b, nil
}

func (s *graphService) Subgraph(ctx context.Context, kbDBId, entityName string, depth, nodeBudget int) (*respond.SubgraphResponse, error) {
	b, err := s.base(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	entityName = strings.TrimSpace(entityName)
	if entityName == "" {
		return nil, xerr.New(xerr.BadRequest, "missing entity name")
	}
	sg, err := s.gs.Expand(ctx, kbDBId, b.GraphGeneration, entityName, depth, nodeBudget)
	if err != nil {
		zlog.Error("graph expand failed", zap.String("kb_db_id", kbDBId), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return toSubgraphResponse(sg), nil
}

func (s *graphService) SampleNodes(ctx context.Context, kbDBId string, num int) (*respond.SubgraphResponse, error) {
	b, err := s.base(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	if num <= 0 {
		num = 50
	}
	sg, err := s.gs.SampleNodes(ctx, kbDBId, b.GraphGeneration, num)
	if err != nil {
		return nil, xerr.ErrServerError
	}
	return toSubgraphResponse(sg), nil
}

func (s *graphService) Labels(ctx context.Context, kbDBId string) ([]string, error) {
	b, err := s.base(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	return s.gs.Labels(ctx, kbDBId, b.GraphGeneration)
}

func (s *graphService) Stats(ctx context.Context, kbDBId string) (*repository.GraphStats, error) {
	b, err := s.base(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	return s.gs.Stats(ctx, kbDBId, b.GraphGeneration)
}

func (s *graphService) Node(ctx context.Context, kbDBId, entityName string) (*respond.NodeResponse, error) {
	b, err := s.base(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	entityName = strings.TrimSpace(entityName)
	if entityName == "" {
		return nil, xerr.New(xerr.BadRequest, "missing entity name")
	}

	ents, err := s.gs.MatchEntities(ctx, kbDBId, b.GraphGeneration, entityName, 1)
	if err != nil {
		zlog.Error("entity match failed", zap.String("kb_db_id", kbDBId), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if len(ents) == 0 {
		return nil, xerr.New(xerr.NotFound, "entity not found")
	}
	ent := ents[0]

	sg, err := s.gs.Expand(ctx, kbDBId, b.GraphGeneration, ent.Name, 1, 32)
	if err != nil {
		return nil, xerr.ErrServerError
	}
	out := &respond.NodeResponse{
		Entity: respond.GraphNode{
			ID:           ent.ID,
			Name:         ent.Name,
			Type:         ent.Type,
			HasEmbedding: ent.HasEmbedding,
		},
	}
	for _, n := range sg.Nodes {
		if n.Name == ent.Name {
			continue
		}
		out.Neighbors = append(out.Neighbors, respond.GraphNode{
			ID:           n.ID,
			Name:         n.Name,
			Type:         n.Type,
			HasEmbedding: n.HasEmbedding,
		})
	}
	for _, e := range sg.Edges {
		out.Relations = append(out.Relations, respond.GraphEdge{
			Source:     e.SourceID,
			Target:     e.TargetID,
			SourceName: e.SourceName,
			TargetName: e.TargetName,
			Type:       e.Type,
			Weight:     e.Weight,
		})
	}
	return out, nil
}

// bulkTripleLine JSONL 导入的行格式，weight 省略时取 1.0
type bulkTripleLine struct {
	Head     string  `json:"head"`
	HeadType string  `json:"head_type"`
	Relation string  `json:"relation"`
	Tail     string  `json:"tail"`
	TailType string  `json:"tail_type"`
	Weight   float64 `json:"weight"`
}

func (s *graphService) BulkAddTriples(ctx context.Context, kbDBId string, data []byte) (*respond.BulkTriplesResult, error) {
	b, err := s.base(ctx, kbDBId)
	if err != nil {
		return nil, err
	}

	res := &respond.BulkTriplesResult{}
	var triples []repository.Triple
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var t bulkTripleLine
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			return nil, xerr.Newf(xerr.BadRequest, "invalid triple at line %d: %v", lineNo, err)
		}
		if strings.TrimSpace(t.Head) == "" || strings.TrimSpace(t.Relation) == "" || strings.TrimSpace(t.Tail) == "" {
			res.Skipped++
			continue
		}
		if t.Weight <= 0 {
			t.Weight = 1.0
		}
		if t.HeadType == "" {
			t.HeadType = "entity"
		}
		if t.TailType == "" {
			t.TailType = "entity"
		}
		triples = append(triples, repository.Triple{
			Head:     strings.TrimSpace(t.Head),
			HeadType: t.HeadType,
			Relation: strings.TrimSpace(t.Relation),
			Tail:     strings.TrimSpace(t.Tail),
			TailType: t.TailType,
			Weight:   t.Weight,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, xerr.New(xerr.BadRequest, "unreadable triple file")
	}
	if len(triples) == 0 {
		return res, nil
	}

	if err := s.gs.UpsertTriples(ctx, kbDBId, b.GraphGeneration, triples); err != nil {
		zlog.Error("bulk triple upsert failed", zap.String("kb_db_id", kbDBId), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	res.Accepted = len(triples)
	zlog.Info("graph triples imported",
		zap.String("kb_db_id", kbDBId),
		zap.Int("accepted", res.Accepted),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (s *graphService) IndexEntities(ctx context.Context, kbDBId string, batch int) (*respond.IndexEntitiesResult, error) {
	b, err := s.base(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	if batch <= 0 || batch > 500 {
		batch = 100
	}

	names, err := s.gs.EntitiesWithoutEmbedding(ctx, kbDBId, b.GraphGeneration, batch)
	if err != nil {
		return nil, xerr.ErrServerError
	}
	if len(names) == 0 {
		return &respond.IndexEntitiesResult{}, nil
	}

	embedder, err := s.factory(ctx, b.Dimension)
	if err != nil {
		return nil, xerr.ErrServerError
	}
	vecs, err := embedder.EmbedStrings(ctx, names)
	if err != nil {
		zlog.Error("entity embedding failed", zap.String("kb_db_id", kbDBId), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if len(vecs) != len(names) {
		return nil, xerr.New(xerr.InternalServerError, "embedder returned mismatched batch")
	}

	embeddings := make([]repository.EntityEmbedding, 0, len(names))
	for i, name := range names {
		v := make([]float32, len(vecs[i]))
		for j, f := range vecs[i] {
			v[j] = float32(f)
		}
		embeddings = append(embeddings, repository.EntityEmbedding{Name: name, Vector: v})
	}
	if err := s.gs.SetEntityEmbeddings(ctx, kbDBId, b.GraphGeneration, embeddings); err != nil {
		return nil, xerr.ErrServerError
	}

	remaining, err := s.gs.EntitiesWithoutEmbedding(ctx, kbDBId, b.GraphGeneration, 1)
	if err != nil {
		remaining = nil
	}
	zlog.Info("entity embeddings indexed",
		zap.String("kb_db_id", kbDBId),
		zap.Int("indexed", len(embeddings)),
	)
	return &respond.IndexEntitiesResult{Indexed: len(embeddings), Remaining: len(remaining)}, nil
}

func toSubgraphResponse(sg *repository.Subgraph) *respond.SubgraphResponse {
	out := &respond.SubgraphResponse{
		Nodes:     make([]respond.GraphNode, 0, len(sg.Nodes)),
		Edges:     make([]respond.GraphEdge, 0, len(sg.Edges)),
		Truncated: sg.Truncated,
	}
	for _, n := range sg.Nodes {
		out.Nodes = append(out.Nodes, respond.GraphNode{
			ID:           n.ID,
			Name:         n.Name,
			Type:         n.Type,
			HasEmbedding: n.HasEmbedding,
		})
	}
	for _, e := range sg.Edges {
		out.Edges = append(out.Edges, respond.GraphEdge{
			Source:     e.SourceID,
			Target:     e.TargetID,
			SourceName: e.SourceName,
			TargetName: e.TargetName,
			Type:       e.Type,
			Weight:     e.Weight,
		})
	}
	return out
}
