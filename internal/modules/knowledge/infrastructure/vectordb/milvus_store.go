package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ShopSage/internal/modules/knowledge/domain/repository"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const vectorFieldName = "vector"

// MilvusStore 基于 Milvus SDK 的 VectorStore 实现。
// 集合按 KB + 代号命名，别名切换由调用方（IndexManager）编排，
// 本层只提供幂等的集合 / 别名 / 读写原语。
type MilvusStore struct {
	cli        mclient.Client
	metricType entity.MetricType
}

var _ repository.VectorStore = (*MilvusStore)(nil)

func NewMilvusStore(cli mclient.Client, metricType entity.MetricType) (*MilvusStore, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if metricType == "" {
		metricType = entity.COSINE
	}
	return &MilvusStore{cli: cli, metricType: metricType}, nil
}

// EnsureCollection 创建集合与 AUTOINDEX 索引并加载；集合已存在时只做加载
func (s *MilvusStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	if strings.TrimSpace(collection) == "" {
		return errors.New("collection is empty")
	}
	if dim <= 0 {
		return fmt.Errorf("invalid vector dim: %d", dim)
	}

	exists, err := s.cli.HasCollection(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		schema := &entity.Schema{
			CollectionName: collection,
			Description:    "ShopSage knowledge base vectors",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       vectorFieldName,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
				},
				{
					Name:       "kb_db_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "doc_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "chunk_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "96"},
				},
				{
					Name:       "sku",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "brand",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "category",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:     "price",
					DataType: entity.FieldTypeDouble,
				},
				{
					Name:       "tags",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "1024"},
				},
				{
					Name:       "content",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "4096"},
				},
				{
					Name:     "metadata",
					DataType: entity.FieldTypeJSON,
				},
			},
		}

		if err := s.cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return err
		}

		idx, err := entity.NewIndexAUTOINDEX(s.metricType)
		if err != nil {
			return err
		}
		if err := s.cli.CreateIndex(ctx, collection, vectorFieldName, idx, false); err != nil {
			return err
		}
	}

	return s.cli.LoadCollection(ctx, collection, false)
}

func (s *MilvusStore) DropCollection(ctx context.Context, collection string) error {
	exists, err := s.cli.HasCollection(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return s.cli.DropCollection(ctx, collection)
}

// BindAlias 把别名指向目标集合。别名不存在时先创建，已存在时原子改指向。
func (s *MilvusStore) BindAlias(ctx context.Context, alias, collection string) error {
	if err := s.cli.CreateAlias(ctx, collection, alias); err == nil {
		return nil
	}
	return s.cli.AlterAlias(ctx, collection, alias)
}

func (s *MilvusStore) DropAlias(ctx context.Context, alias string) error {
	return s.cli.DropAlias(ctx, alias)
}

func (s *MilvusStore) Upsert(ctx context.Context, collection string, items []repository.VectorUpsertItem) ([]string, error) {
	if len(items) == 0 {
		return []string{}, nil
	}

	dim := len(items[0].Vector)
	ids := make([]string, 0, len(items))
	vectors := make([][]float32, 0, len(items))
	kbDBIds := make([]string, 0, len(items))
	docIds := make([]string, 0, len(items))
	chunkIds := make([]string, 0, len(items))
	skus := make([]string, 0, len(items))
	brands := make([]string, 0, len(items))
	categories := make([]string, 0, len(items))
	prices := make([]float64, 0, len(items))
	tags := make([]string, 0, len(items))
	contents := make([]string, 0, len(items))
	metas := make([]string, 0, len(items))

	for _, it := range items {
		if it.ID == "" {
			return nil, errors.New("upsert item missing ID")
		}
		if len(it.Vector) != dim {
			return nil, fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", it.ID, len(it.Vector), dim)
		}
		ids = append(ids, it.ID)
		vectors = append(vectors, it.Vector)
		kbDBIds = append(kbDBIds, it.KBDBId)
		docIds = append(docIds, it.DocId)
		chunkIds = append(chunkIds, it.ChunkId)
		skus = append(skus, it.SKU)
		brands = append(brands, it.Brand)
		categories = append(categories, it.Category)
		prices = append(prices, it.Price)
		t := it.TagsJSON
		if t == "" {
			t = "[]"
		}
		tags = append(tags, t)
		contents = append(contents, it.Content)
		m := it.MetaJSON
		if m == "" {
			m = "{}"
		}
		metas = append(metas, m)
	}

	_, err := s.cli.Upsert(
		ctx,
		collection,
		"",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(vectorFieldName, dim, vectors),
		entity.NewColumnVarChar("kb_db_id", kbDBIds),
		entity.NewColumnVarChar("doc_id", docIds),
		entity.NewColumnVarChar("chunk_id", chunkIds),
		entity.NewColumnVarChar("sku", skus),
		entity.NewColumnVarChar("brand", brands),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnDouble("price", prices),
		entity.NewColumnVarChar("tags", tags),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnJSONBytes("metadata", stringSliceToJSONBytes(metas)),
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`id in ["%s"]`, strings.Join(ids, `","`))
	return s.cli.Delete(ctx, collection, "", expr)
}

func (s *MilvusStore) DeleteByDoc(ctx context.Context, collection string, docID string) error {
	if strings.TrimSpace(docID) == "" {
		return nil
	}
	expr := fmt.Sprintf(`doc_id == "%s"`, docID)
	return s.cli.Delete(ctx, collection, "", expr)
}

var searchOutputFields = []string{"id", "kb_db_id", "doc_id", "chunk_id", "sku", "brand", "category", "price", "tags", "content", "metadata"}

func (s *MilvusStore) Search(ctx context.Context, collection string, vector []float32, topK int, expr string) ([]repository.VectorSearchHit, error) {
	if len(vector) == 0 {
		return nil, errors.New("empty query vector")
	}
	if topK <= 0 {
		topK = 10
	}

	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}

	res, err := s.cli.Search(
		ctx,
		collection,
		nil,
		expr,
		searchOutputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		vectorFieldName,
		s.metricType,
		topK,
		sp,
	)
	if err != nil {
		return nil, err
	}

	hits := make([]repository.VectorSearchHit, 0)
	if len(res) == 0 {
		return hits, nil
	}

	sr := res[0]
	if sr.Err != nil {
		return nil, sr.Err
	}

	getCol := func(name string) entity.Column {
		for _, c := range sr.Fields {
			if c.Name() == name {
				return c
			}
		}
		return nil
	}

	kbCol := getCol("kb_db_id")
	docCol := getCol("doc_id")
	chunkCol := getCol("chunk_id")
	skuCol := getCol("sku")
	brandCol := getCol("brand")
	categoryCol := getCol("category")
	priceCol := getCol("price")
	tagsCol := getCol("tags")
	contentCol := getCol("content")
	metaCol := getCol("metadata")

	for i := 0; i < sr.ResultCount; i++ {
		id, _ := sr.IDs.GetAsString(i)
		hit := repository.VectorSearchHit{ID: id, Score: sr.Scores[i]}

		if kbCol != nil {
			hit.KBDBId, _ = kbCol.GetAsString(i)
		}
		if docCol != nil {
			hit.DocId, _ = docCol.GetAsString(i)
		}
		if chunkCol != nil {
			hit.ChunkId, _ = chunkCol.GetAsString(i)
		}
		if skuCol != nil {
			hit.SKU, _ = skuCol.GetAsString(i)
		}
		if brandCol != nil {
			hit.Brand, _ = brandCol.GetAsString(i)
		}
		if categoryCol != nil {
			hit.Category, _ = categoryCol.GetAsString(i)
		}
		if priceCol != nil {
			hit.Price, _ = priceCol.GetAsDouble(i)
		}
		if tagsCol != nil {
			hit.TagsJSON, _ = tagsCol.GetAsString(i)
		}
		if contentCol != nil {
			hit.Content, _ = contentCol.GetAsString(i)
		}
		if metaCol != nil {
			if v, err := metaCol.Get(i); err == nil {
				if bs, ok := v.([]byte); ok {
					hit.MetaJSON = string(bs)
				}
			}
		}

		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *MilvusStore) Ping(ctx context.Context) error {
	_, err := s.cli.ListCollections(ctx)
	return err
}

func stringSliceToJSONBytes(values []string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out
}
