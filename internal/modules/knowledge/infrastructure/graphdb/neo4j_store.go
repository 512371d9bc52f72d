package graphdb

import (
	"context"
	"fmt"
	"strings"

	"ShopSage/internal/modules/knowledge/domain/repository"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore 基于 neo4j-go-driver 的 GraphStore 实现。
//
// 数据模型：(:Entity {kb_id, gen, name, type, embedding})-[:RELATION {type, weight}]->(:Entity)。
// 同一 KB 的多个代共存于同一库中，靠 gen 属性区分；Promote 切换当前代并清除旧代。
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ repository.GraphStore = (*Neo4jStore)(nil)

func NewNeo4jStore(driver neo4j.DriverWithContext, database string) (*Neo4jStore, error) {
	if driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{driver: driver, database: database}, nil
}

func (s *Neo4jStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
}

func (s *Neo4jStore) UpsertTriples(ctx context.Context, kbDBId string, generation int64, triples []repository.Triple) error {
	if len(triples) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(triples))
	for _, t := range triples {
		h := strings.TrimSpace(t.Head)
		tl := strings.TrimSpace(t.Tail)
		r := strings.TrimSpace(t.Relation)
		if h == "" || tl == "" || r == "" {
			continue
		}
		w := t.Weight
		if w <= 0 {
			w = 1.0
		}
		rows = append(rows, map[string]any{
			"h": h, "ht": t.HeadType,
			"t": tl, "tt": t.TailType,
			"r": r, "w": w,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	// UNWIND 批量合并；关系权重取历史最大值，重复摄取不抖动
	query := `
		UNWIND $rows AS row
		MERGE (h:Entity {kb_id: $kb, gen: $gen, name: row.h})
		  ON CREATE SET h.type = row.ht
		MERGE (t:Entity {kb_id: $kb, gen: $gen, name: row.t})
		  ON CREATE SET t.type = row.tt
		MERGE (h)-[r:RELATION {type: row.r}]->(t)
		  ON CREATE SET r.weight = row.w
		  ON MATCH SET r.weight = CASE WHEN row.w > r.weight THEN row.w ELSE r.weight END`
	_, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation, "rows": rows})
	return err
}

func (s *Neo4jStore) PromoteGeneration(ctx context.Context, kbDBId string, generation int64) error {
	query := `
		MATCH (n:Entity {kb_id: $kb})
		WHERE n.gen <> $gen
		DETACH DELETE n`
	_, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation})
	return err
}

func (s *Neo4jStore) DropGeneration(ctx context.Context, kbDBId string, generation int64) error {
	query := `
		MATCH (n:Entity {kb_id: $kb, gen: $gen})
		DETACH DELETE n`
	_, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation})
	return err
}

func (s *Neo4jStore) DeleteByKB(ctx context.Context, kbDBId string) error {
	query := `
		MATCH (n:Entity {kb_id: $kb})
		DETACH DELETE n`
	_, err := s.run(ctx, query, map[string]any{"kb": kbDBId})
	return err
}

// MatchEntities 精确匹配优先，不足时退化为大小写不敏感的子串匹配
func (s *Neo4jStore) MatchEntities(ctx context.Context, kbDBId string, generation int64, mention string, limit int) ([]repository.GraphEntity, error) {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	query := `
		MATCH (n:Entity {kb_id: $kb, gen: $gen})
		WHERE n.name = $m OR toLower(n.name) CONTAINS toLower($m)
		RETURN elementId(n) AS id, n.name AS name, n.type AS type,
		       n.embedding IS NOT NULL AS has_embedding,
		       CASE WHEN n.name = $m THEN 0 ELSE 1 END AS rank
		ORDER BY rank, size(n.name)
		LIMIT $limit`
	res, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation, "m": mention, "limit": limit})
	if err != nil {
		return nil, err
	}

	out := make([]repository.GraphEntity, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, recordToEntity(rec, kbDBId))
	}
	return out, nil
}

func (s *Neo4jStore) Expand(ctx context.Context, kbDBId string, generation int64, entityName string, depth, nodeBudget int) (*repository.Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > 3 {
		depth = 3
	}
	if nodeBudget <= 0 {
		nodeBudget = 64
	}

	// 可变长度关系模式的跳数无法参数化，depth 已被钳制在 [1,3]
	query := fmt.Sprintf(`
		MATCH (seed:Entity {kb_id: $kb, gen: $gen, name: $name})
		CALL {
			WITH seed
			MATCH (seed)-[*1..%d]-(nb:Entity {kb_id: $kb, gen: $gen})
			RETURN collect(DISTINCT nb) AS nbs
		}
		WITH seed, nbs[0..$budget-1] AS picked
		WITH [seed] + picked AS final_nodes
		UNWIND final_nodes AS n
		OPTIONAL MATCH (n)-[rel:RELATION]-(m)
		WHERE m IN final_nodes AND elementId(n) < elementId(m)
		RETURN
			collect(DISTINCT {id: elementId(n), name: n.name, type: n.type, has_embedding: n.embedding IS NOT NULL}) AS nodes,
			collect(DISTINCT {source: elementId(startNode(rel)), target: elementId(endNode(rel)),
			                  source_name: startNode(rel).name, target_name: endNode(rel).name,
			                  type: rel.type, weight: coalesce(rel.weight, 1.0)}) AS edges,
			size(nbs) > $budget-1 AS truncated`, depth)

	res, err := s.run(ctx, query, map[string]any{
		"kb": kbDBId, "gen": generation, "name": entityName, "budget": nodeBudget,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return &repository.Subgraph{Nodes: []repository.GraphEntity{}, Edges: []repository.GraphRelation{}}, nil
	}
	return recordToSubgraph(res.Records[0], kbDBId)
}

func (s *Neo4jStore) SampleNodes(ctx context.Context, kbDBId string, generation int64, num int) (*repository.Subgraph, error) {
	if num <= 0 {
		num = 50
	}
	query := `
		MATCH (n:Entity {kb_id: $kb, gen: $gen})
		WITH n LIMIT $num
		WITH collect(n) AS final_nodes
		UNWIND final_nodes AS n
		OPTIONAL MATCH (n)-[rel:RELATION]-(m)
		WHERE m IN final_nodes AND elementId(n) < elementId(m)
		RETURN
			collect(DISTINCT {id: elementId(n), name: n.name, type: n.type, has_embedding: n.embedding IS NOT NULL}) AS nodes,
			collect(DISTINCT {source: elementId(startNode(rel)), target: elementId(endNode(rel)),
			                  source_name: startNode(rel).name, target_name: endNode(rel).name,
			                  type: rel.type, weight: coalesce(rel.weight, 1.0)}) AS edges,
			false AS truncated`
	res, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation, "num": num})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return &repository.Subgraph{Nodes: []repository.GraphEntity{}, Edges: []repository.GraphRelation{}}, nil
	}
	return recordToSubgraph(res.Records[0], kbDBId)
}

func (s *Neo4jStore) Labels(ctx context.Context, kbDBId string, generation int64) ([]string, error) {
	query := `
		MATCH (n:Entity {kb_id: $kb, gen: $gen})
		RETURN DISTINCT n.type AS t
		ORDER BY t`
	res, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		if v, ok := rec.Get("t"); ok {
			if sv, ok := v.(string); ok && sv != "" {
				out = append(out, sv)
			}
		}
	}
	return out, nil
}

func (s *Neo4jStore) Stats(ctx context.Context, kbDBId string, generation int64) (*repository.GraphStats, error) {
	query := `
		MATCH (n:Entity {kb_id: $kb, gen: $gen})
		OPTIONAL MATCH (n)-[r:RELATION]->(:Entity {kb_id: $kb, gen: $gen})
		RETURN count(DISTINCT n) AS nodes, count(r) AS edges`
	res, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation})
	if err != nil {
		return nil, err
	}
	stats := &repository.GraphStats{EntityTypes: []repository.EntityTypeStat{}}
	if len(res.Records) > 0 {
		if v, ok := res.Records[0].Get("nodes"); ok {
			stats.TotalNodes, _ = v.(int64)
		}
		if v, ok := res.Records[0].Get("edges"); ok {
			stats.TotalEdges, _ = v.(int64)
		}
	}

	typeQuery := `
		MATCH (n:Entity {kb_id: $kb, gen: $gen})
		RETURN n.type AS t, count(n) AS c
		ORDER BY c DESC`
	tRes, err := s.run(ctx, typeQuery, map[string]any{"kb": kbDBId, "gen": generation})
	if err != nil {
		return nil, err
	}
	for _, rec := range tRes.Records {
		ts := repository.EntityTypeStat{}
		if v, ok := rec.Get("t"); ok {
			ts.Type, _ = v.(string)
		}
		if v, ok := rec.Get("c"); ok {
			ts.Count, _ = v.(int64)
		}
		stats.EntityTypes = append(stats.EntityTypes, ts)
	}
	return stats, nil
}

func (s *Neo4jStore) EntitiesWithoutEmbedding(ctx context.Context, kbDBId string, generation int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		MATCH (n:Entity {kb_id: $kb, gen: $gen})
		WHERE n.embedding IS NULL
		RETURN n.name AS name
		LIMIT $limit`
	res, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		if v, ok := rec.Get("name"); ok {
			if sv, ok := v.(string); ok {
				out = append(out, sv)
			}
		}
	}
	return out, nil
}

func (s *Neo4jStore) SetEntityEmbeddings(ctx context.Context, kbDBId string, generation int64, embeddings []repository.EntityEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(embeddings))
	for _, e := range embeddings {
		vec := make([]float64, len(e.Vector))
		for i, f := range e.Vector {
			vec[i] = float64(f)
		}
		rows = append(rows, map[string]any{"name": e.Name, "embedding": vec})
	}
	query := `
		UNWIND $rows AS row
		MATCH (n:Entity {kb_id: $kb, gen: $gen, name: row.name})
		SET n.embedding = row.embedding`
	_, err := s.run(ctx, query, map[string]any{"kb": kbDBId, "gen": generation, "rows": rows})
	return err
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func recordToEntity(rec *neo4j.Record, kbDBId string) repository.GraphEntity {
	e := repository.GraphEntity{KBDBId: kbDBId}
	if v, ok := rec.Get("id"); ok {
		e.ID, _ = v.(string)
	}
	if v, ok := rec.Get("name"); ok {
		e.Name, _ = v.(string)
	}
	if v, ok := rec.Get("type"); ok {
		e.Type, _ = v.(string)
	}
	if v, ok := rec.Get("has_embedding"); ok {
		e.HasEmbedding, _ = v.(bool)
	}
	return e
}

func recordToSubgraph(rec *neo4j.Record, kbDBId string) (*repository.Subgraph, error) {
	sg := &repository.Subgraph{Nodes: []repository.GraphEntity{}, Edges: []repository.GraphRelation{}}

	if v, ok := rec.Get("nodes"); ok {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				e := repository.GraphEntity{KBDBId: kbDBId}
				e.ID, _ = m["id"].(string)
				e.Name, _ = m["name"].(string)
				e.Type, _ = m["type"].(string)
				e.HasEmbedding, _ = m["has_embedding"].(bool)
				if e.Name != "" {
					sg.Nodes = append(sg.Nodes, e)
				}
			}
		}
	}

	if v, ok := rec.Get("edges"); ok {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				r := repository.GraphRelation{Weight: 1.0}
				r.SourceID, _ = m["source"].(string)
				r.TargetID, _ = m["target"].(string)
				r.SourceName, _ = m["source_name"].(string)
				r.TargetName, _ = m["target_name"].(string)
				r.Type, _ = m["type"].(string)
				if w, ok := m["weight"].(float64); ok {
					r.Weight = w
				}
				if r.SourceName != "" && r.TargetName != "" {
					sg.Edges = append(sg.Edges, r)
				}
			}
		}
	}

	if v, ok := rec.Get("truncated"); ok {
		sg.Truncated, _ = v.(bool)
	}
	return sg, nil
}
