package vectordb

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"ShopSage/internal/modules/knowledge/domain/repository"
)

// MemoryStore VectorStore 的进程内实现，测试与本地开发用。
// 相似度固定用余弦，过滤表达式只支持本仓库自己会生成的子集。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]repository.VectorUpsertItem
	dims        map[string]int
	aliases     map[string]string
	failSearch  error
	failUpsert  error
}

var _ repository.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]repository.VectorUpsertItem),
		dims:        make(map[string]int),
		aliases:     make(map[string]string),
	}
}

// FailNextSearch 让后续 Search 返回指定错误，用于演练降级路径
func (s *MemoryStore) FailNextSearch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSearch = err
}

// FailNextUpsert 让后续 Upsert 返回指定错误
func (s *MemoryStore) FailNextUpsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpsert = err
}

func (s *MemoryStore) EnsureCollection(_ context.Context, collection string, dim int) error {
	if collection == "" {
		return fmt.Errorf("collection is empty")
	}
	if dim <= 0 {
		return fmt.Errorf("invalid vector dim: %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = make(map[string]repository.VectorUpsertItem)
		s.dims[collection] = dim
	}
	return nil
}

func (s *MemoryStore) DropCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	delete(s.dims, collection)
	for a, c := range s.aliases {
		if c == collection {
			delete(s.aliases, a)
		}
	}
	return nil
}

func (s *MemoryStore) BindAlias(_ context.Context, alias, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		return fmt.Errorf("collection not found: %s", collection)
	}
	s.aliases[alias] = collection
	return nil
}

func (s *MemoryStore) DropAlias(_ context.Context, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.aliases, alias)
	return nil
}

func (s *MemoryStore) resolve(name string) (map[string]repository.VectorUpsertItem, int, bool) {
	if c, ok := s.aliases[name]; ok {
		name = c
	}
	col, ok := s.collections[name]
	return col, s.dims[name], ok
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, items []repository.VectorUpsertItem) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert != nil {
		err := s.failUpsert
		s.failUpsert = nil
		return nil, err
	}
	col, dim, ok := s.resolve(collection)
	if !ok {
		return nil, fmt.Errorf("collection not found: %s", collection)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("upsert item missing ID")
		}
		if len(it.Vector) != dim {
			return nil, fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", it.ID, len(it.Vector), dim)
		}
		col[it.ID] = it
		ids = append(ids, it.ID)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteByIDs(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, _, ok := s.resolve(collection)
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(col, id)
	}
	return nil
}

func (s *MemoryStore) DeleteByDoc(_ context.Context, collection string, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, _, ok := s.resolve(collection)
	if !ok {
		return nil
	}
	for id, it := range col {
		if it.DocId == docID {
			delete(col, id)
		}
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, collection string, vector []float32, topK int, expr string) ([]repository.VectorSearchHit, error) {
	s.mu.Lock()
	if s.failSearch != nil {
		err := s.failSearch
		s.failSearch = nil
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, dim, ok := s.resolve(collection)
	if !ok {
		return nil, fmt.Errorf("collection not found: %s", collection)
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("query vector dim mismatch, got=%d want=%d", len(vector), dim)
	}

	filter, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}

	hits := make([]repository.VectorSearchHit, 0)
	for _, it := range col {
		if !filter.matches(it) {
			continue
		}
		hits = append(hits, repository.VectorSearchHit{
			ID:       it.ID,
			Score:    cosine(vector, it.Vector),
			KBDBId:   it.KBDBId,
			DocId:    it.DocId,
			ChunkId:  it.ChunkId,
			SKU:      it.SKU,
			Brand:    it.Brand,
			Category: it.Category,
			Price:    it.Price,
			TagsJSON: it.TagsJSON,
			Content:  it.Content,
			MetaJSON: it.MetaJSON,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Count 集合内条目数（含别名解析），测试断言用
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, _, ok := s.resolve(collection)
	if !ok {
		return 0
	}
	return len(col)
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// 过滤表达式解析。只支持 MilvusStore 调用方实际生成的形态：
// 以 and 连接的 field == "val" / price >= n / price <= n / tags like "%v%"
type exprFilter struct {
	clauses []func(repository.VectorUpsertItem) bool
}

var (
	eqRe   = regexp.MustCompile(`^(\w+)\s*==\s*"([^"]*)"$`)
	cmpRe  = regexp.MustCompile(`^price\s*(<=|>=)\s*([0-9.]+)$`)
	likeRe = regexp.MustCompile(`^tags\s+like\s+"%([^"]*)%"$`)
)

func parseExpr(expr string) (*exprFilter, error) {
	f := &exprFilter{}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return f, nil
	}
	for _, part := range strings.Split(expr, " and ") {
		part = strings.TrimSpace(part)
		switch {
		case eqRe.MatchString(part):
			m := eqRe.FindStringSubmatch(part)
			field, want := m[1], m[2]
			f.clauses = append(f.clauses, func(it repository.VectorUpsertItem) bool {
				return fieldValue(it, field) == want
			})
		case cmpRe.MatchString(part):
			m := cmpRe.FindStringSubmatch(part)
			op := m[1]
			limit, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				return nil, err
			}
			f.clauses = append(f.clauses, func(it repository.VectorUpsertItem) bool {
				if op == "<=" {
					return it.Price <= limit
				}
				return it.Price >= limit
			})
		case likeRe.MatchString(part):
			m := likeRe.FindStringSubmatch(part)
			want := m[1]
			f.clauses = append(f.clauses, func(it repository.VectorUpsertItem) bool {
				return strings.Contains(it.TagsJSON, want)
			})
		default:
			return nil, fmt.Errorf("unsupported expr clause: %q", part)
		}
	}
	return f, nil
}

func fieldValue(it repository.VectorUpsertItem, field string) string {
	switch field {
	case "kb_db_id":
		return it.KBDBId
	case "doc_id":
		return it.DocId
	case "chunk_id":
		return it.ChunkId
	case "sku":
		return it.SKU
	case "brand":
		return it.Brand
	case "category":
		return it.Category
	default:
		return ""
	}
}

func (f *exprFilter) matches(it repository.VectorUpsertItem) bool {
	for _, c := range f.clauses {
		if !c(it) {
			return false
		}
	}
	return true
}
