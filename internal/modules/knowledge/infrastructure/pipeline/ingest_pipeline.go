package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/chunking"
	"ShopSage/internal/modules/knowledge/infrastructure/extraction"
	"ShopSage/pkg/retry"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/compose"
)

// IngestRequest 一次文档摄取。Collection / Generation 指明写入目标：
// 常规摄取写 KB 的当前集合与当前图代，重建期间由 IndexManager 指到暂存代。
type IngestRequest struct {
	KBDBId     string
	DocID      string
	Collection string
	Generation int64

	// StageOnly 重建暂存模式：只写暂存集合与图代，切片和向量记录
	// 不落库，随结果返回，由 IndexManager 在别名切换后统一落库。
	StageOnly bool
}

type IngestResult struct {
	KBDBId     string `json:"kb_db_id"`
	DocID      string `json:"doc_id"`
	Attempt    int    `json:"attempt"`
	Chunks     int    `json:"chunks"`
	VectorsOK  int    `json:"vectors_ok"`
	Triples    int    `json:"triples"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`

	// StageOnly 模式下暂存的元数据，切换成功后由调用方落库
	StagedChunks  []*kb.KnowledgeChunk `json:"-"`
	StagedRecords []*kb.VectorRecord   `json:"-"`
}

// IngestPipeline 摄取管线：校验 → 切片 → 嵌入 → 写向量 → 提取图谱 → 提交。
// 任何一步失败都会补偿删除本次已写入的向量，保证单文档摄取对外原子。
type IngestPipeline struct {
	kbRepo  repository.KBRepository
	docRepo repository.DocumentRepository
	vs      repository.VectorStore
	gs      repository.GraphStore

	embedder  embedding.Embedder
	chunker   *chunking.SimpleChunker
	extractor *extraction.EntityExtractor

	embeddingProvider string
	embeddingModel    string
	embedBatchSize    int
	graphRetry        retry.Policy

	r compose.Runnable[*IngestRequest, *IngestResult]
}

func NewIngestPipeline(
	kbRepo repository.KBRepository,
	docRepo repository.DocumentRepository,
	vs repository.VectorStore,
	gs repository.GraphStore,
	embedder embedding.Embedder,
	chunker *chunking.SimpleChunker,
	embeddingProvider, embeddingModel string,
	embedBatchSize int,
) (*IngestPipeline, error) {
	if kbRepo == nil || docRepo == nil {
		return nil, fmt.Errorf("repository is nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if gs == nil {
		return nil, fmt.Errorf("graph store is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if chunker == nil {
		return nil, fmt.Errorf("chunker is nil")
	}
	if embedBatchSize <= 0 {
		embedBatchSize = 32
	}

	p := &IngestPipeline{
		kbRepo:            kbRepo,
		docRepo:           docRepo,
		vs:                vs,
		gs:                gs,
		embedder:          embedder,
		chunker:           chunker,
		extractor:         extraction.NewEntityExtractor(),
		embeddingProvider: strings.TrimSpace(embeddingProvider),
		embeddingModel:    strings.TrimSpace(embeddingModel),
		embedBatchSize:    embedBatchSize,
		graphRetry:        retry.DefaultPolicy(),
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

func (p *IngestPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	return p.r.Invoke(ctx, &req)
}

// PurgeDocument 删除文档的向量与元数据（文档删除路径）
func (p *IngestPipeline) PurgeDocument(ctx context.Context, collection, docID string) error {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return fmt.Errorf("missing doc_id")
	}
	if err := p.vs.DeleteByDoc(ctx, collection, docID); err != nil {
		return err
	}
	if err := p.docRepo.DeleteVectorRecordsByDoc(ctx, docID); err != nil {
		return err
	}
	return p.docRepo.DeleteChunksByDoc(ctx, docID)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func truncate4096(s string) string {
	r := []rune(s)
	if len(r) <= 4096 {
		return s
	}
	return string(r[:4096])
}
