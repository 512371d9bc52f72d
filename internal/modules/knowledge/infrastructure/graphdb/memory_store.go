package graphdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ShopSage/internal/modules/knowledge/domain/repository"
)

// MemoryStore GraphStore 的进程内实现，测试与本地开发用。
// 节点键为 (kb, gen, name)，与 Neo4j 实现的合并语义保持一致。
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[genKey]map[string]*memNode
	failNext error
}

type genKey struct {
	kb  string
	gen int64
}

type memNode struct {
	name      string
	typ       string
	embedding []float32
	out       map[edgeKey]float64
}

type edgeKey struct {
	relation string
	tail     string
}

var _ repository.GraphStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[genKey]map[string]*memNode)}
}

// FailNext 让下一次图操作返回指定错误
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) takeFailure() error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	return nil
}

func (s *MemoryStore) bucket(kb string, gen int64) map[string]*memNode {
	k := genKey{kb: kb, gen: gen}
	if s.nodes[k] == nil {
		s.nodes[k] = make(map[string]*memNode)
	}
	return s.nodes[k]
}

func (s *MemoryStore) UpsertTriples(_ context.Context, kbDBId string, generation int64, triples []repository.Triple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}

	b := s.bucket(kbDBId, generation)
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
		hn := ensureNode(b, h, t.HeadType)
		ensureNode(b, tl, t.TailType)
		ek := edgeKey{relation: r, tail: tl}
		if old, ok := hn.out[ek]; !ok || w > old {
			hn.out[ek] = w
		}
	}
	return nil
}

func ensureNode(b map[string]*memNode, name, typ string) *memNode {
	n, ok := b[name]
	if !ok {
		n = &memNode{name: name, typ: typ, out: make(map[edgeKey]float64)}
		b[name] = n
	}
	return n
}

func (s *MemoryStore) PromoteGeneration(_ context.Context, kbDBId string, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.nodes {
		if k.kb == kbDBId && k.gen != generation {
			delete(s.nodes, k)
		}
	}
	return nil
}

func (s *MemoryStore) DropGeneration(_ context.Context, kbDBId string, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, genKey{kb: kbDBId, gen: generation})
	return nil
}

func (s *MemoryStore) DeleteByKB(_ context.Context, kbDBId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.nodes {
		if k.kb == kbDBId {
			delete(s.nodes, k)
		}
	}
	return nil
}

func (s *MemoryStore) MatchEntities(_ context.Context, kbDBId string, generation int64, mention string, limit int) ([]repository.GraphEntity, error) {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	mention = strings.TrimSpace(mention)
	if mention == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	b := s.nodes[genKey{kb: kbDBId, gen: generation}]
	type ranked struct {
		ent  repository.GraphEntity
		rank int
	}
	var out []ranked
	lower := strings.ToLower(mention)
	for name, n := range b {
		rank := -1
		if name == mention {
			rank = 0
		} else if strings.Contains(strings.ToLower(name), lower) {
			rank = 1
		}
		if rank < 0 {
			continue
		}
		out = append(out, ranked{
			ent:  repository.GraphEntity{ID: name, KBDBId: kbDBId, Name: name, Type: n.typ, HasEmbedding: len(n.embedding) > 0},
			rank: rank,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		if len(out[i].ent.Name) != len(out[j].ent.Name) {
			return len(out[i].ent.Name) < len(out[j].ent.Name)
		}
		return out[i].ent.Name < out[j].ent.Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	res := make([]repository.GraphEntity, 0, len(out))
	for _, r := range out {
		res = append(res, r.ent)
	}
	return res, nil
}

func (s *MemoryStore) Expand(_ context.Context, kbDBId string, generation int64, entityName string, depth, nodeBudget int) (*repository.Subgraph, error) {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if depth <= 0 {
		depth = 1
	}
	if nodeBudget <= 0 {
		nodeBudget = 64
	}

	b := s.nodes[genKey{kb: kbDBId, gen: generation}]
	if _, ok := b[entityName]; !ok {
		return &repository.Subgraph{Nodes: []repository.GraphEntity{}, Edges: []repository.GraphRelation{}}, nil
	}

	// 无向 BFS，超出 nodeBudget 即截断
	visited := map[string]bool{entityName: true}
	frontier := []string{entityName}
	truncated := false
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, name := range frontier {
			for _, nb := range s.neighbors(b, name) {
				if visited[nb] {
					continue
				}
				if len(visited) >= nodeBudget {
					truncated = true
					break
				}
				visited[nb] = true
				next = append(next, nb)
			}
		}
		frontier = next
	}

	sg := &repository.Subgraph{Nodes: []repository.GraphEntity{}, Edges: []repository.GraphRelation{}, Truncated: truncated}
	names := make([]string, 0, len(visited))
	for name := range visited {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n := b[name]
		sg.Nodes = append(sg.Nodes, repository.GraphEntity{ID: name, KBDBId: kbDBId, Name: name, Type: n.typ, HasEmbedding: len(n.embedding) > 0})
	}
	for _, name := range names {
		n := b[name]
		for ek, w := range n.out {
			if !visited[ek.tail] {
				continue
			}
			sg.Edges = append(sg.Edges, repository.GraphRelation{
				SourceID: name, TargetID: ek.tail,
				SourceName: name, TargetName: ek.tail,
				Type: ek.relation, Weight: w,
			})
		}
	}
	sort.Slice(sg.Edges, func(i, j int) bool {
		if sg.Edges[i].Weight != sg.Edges[j].Weight {
			return sg.Edges[i].Weight > sg.Edges[j].Weight
		}
		if sg.Edges[i].SourceName != sg.Edges[j].SourceName {
			return sg.Edges[i].SourceName < sg.Edges[j].SourceName
		}
		return sg.Edges[i].TargetName < sg.Edges[j].TargetName
	})
	return sg, nil
}

func (s *MemoryStore) neighbors(b map[string]*memNode, name string) []string {
	seen := map[string]bool{}
	var out []string
	if n, ok := b[name]; ok {
		for ek := range n.out {
			if !seen[ek.tail] {
				seen[ek.tail] = true
				out = append(out, ek.tail)
			}
		}
	}
	for other, n := range b {
		if other == name {
			continue
		}
		for ek := range n.out {
			if ek.tail == name && !seen[other] {
				seen[other] = true
				out = append(out, other)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) SampleNodes(_ context.Context, kbDBId string, generation int64, num int) (*repository.Subgraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if num <= 0 {
		num = 50
	}
	b := s.nodes[genKey{kb: kbDBId, gen: generation}]
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > num {
		names = names[:num]
	}
	picked := map[string]bool{}
	for _, n := range names {
		picked[n] = true
	}

	sg := &repository.Subgraph{Nodes: []repository.GraphEntity{}, Edges: []repository.GraphRelation{}}
	for _, name := range names {
		n := b[name]
		sg.Nodes = append(sg.Nodes, repository.GraphEntity{ID: name, KBDBId: kbDBId, Name: name, Type: n.typ, HasEmbedding: len(n.embedding) > 0})
		for ek, w := range n.out {
			if picked[ek.tail] {
				sg.Edges = append(sg.Edges, repository.GraphRelation{
					SourceID: name, TargetID: ek.tail,
					SourceName: name, TargetName: ek.tail,
					Type: ek.relation, Weight: w,
				})
			}
		}
	}
	return sg, nil
}

func (s *MemoryStore) Labels(_ context.Context, kbDBId string, generation int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, n := range s.nodes[genKey{kb: kbDBId, gen: generation}] {
		if n.typ != "" && !seen[n.typ] {
			seen[n.typ] = true
			out = append(out, n.typ)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, kbDBId string, generation int64) (*repository.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.nodes[genKey{kb: kbDBId, gen: generation}]
	stats := &repository.GraphStats{EntityTypes: []repository.EntityTypeStat{}}
	typeCount := map[string]int64{}
	for _, n := range b {
		stats.TotalNodes++
		stats.TotalEdges += int64(len(n.out))
		typeCount[n.typ]++
	}
	types := make([]string, 0, len(typeCount))
	for t := range typeCount {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if typeCount[types[i]] != typeCount[types[j]] {
			return typeCount[types[i]] > typeCount[types[j]]
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		stats.EntityTypes = append(stats.EntityTypes, repository.EntityTypeStat{Type: t, Count: typeCount[t]})
	}
	return stats, nil
}

func (s *MemoryStore) EntitiesWithoutEmbedding(_ context.Context, kbDBId string, generation int64, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []string
	for name, n := range s.nodes[genKey{kb: kbDBId, gen: generation}] {
		if len(n.embedding) == 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetEntityEmbeddings(_ context.Context, kbDBId string, generation int64, embeddings []repository.EntityEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.nodes[genKey{kb: kbDBId, gen: generation}]
	for _, e := range embeddings {
		if n, ok := b[e.Name]; ok {
			n.embedding = append([]float32(nil), e.Vector...)
		}
	}
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// NodeCount 指定代的节点数，测试断言用
func (s *MemoryStore) NodeCount(kbDBId string, generation int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes[genKey{kb: kbDBId, gen: generation}])
}

// HasGeneration 指定代是否仍有数据
func (s *MemoryStore) HasGeneration(kbDBId string, generation int64) bool {
	return s.NodeCount(kbDBId, generation) > 0
}

func (s *MemoryStore) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("MemoryStore(generations=%d)", len(s.nodes))
}
