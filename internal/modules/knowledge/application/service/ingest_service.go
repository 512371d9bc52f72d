package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"ShopSage/internal/config"
	"ShopSage/internal/modules/knowledge/application/dto/respond"
	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/mq"
	"ShopSage/internal/modules/knowledge/infrastructure/pipeline"
	"ShopSage/internal/modules/knowledge/infrastructure/queue"
	"ShopSage/pkg/util"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"

	"go.uber.org/zap"
)

type UploadDocumentInput struct {
	Filename    string
	ContentType string
	Content     []byte
}

type IngestService interface {
	// Upload 校验通过后落库并投递摄取事件；publisher 缺失时退化为同步摄取
	Upload(ctx context.Context, kbDBId string, in UploadDocumentInput) (*respond.DocumentInfo, error)
	ListDocuments(ctx context.Context, kbDBId string) ([]*respond.DocumentInfo, error)
	GetDocument(ctx context.Context, kbDBId, docID string) (*respond.DocumentDetail, error)
	// Reingest 对已存在的文档重新走一遍摄取管线
	Reingest(ctx context.Context, kbDBId, docID string) error
	DeleteDocument(ctx context.Context, kbDBId, docID string) error
}

type ingestService struct {
	kbRepo    repository.KBRepository
	docRepo   repository.DocumentRepository
	pipeline  *pipeline.IngestPipeline
	publisher mq.Publisher
	topic     string
	ingestCfg config.IngestConfig
}

func NewIngestService(
	kbRepo repository.KBRepository,
	docRepo repository.DocumentRepository,
	pl *pipeline.IngestPipeline,
	publisher mq.Publisher,
	topic string,
	ingestCfg config.IngestConfig,
) IngestService {
	return &ingestService{
		kbRepo:    kbRepo,
		docRepo:   docRepo,
		pipeline:  pl,
		publisher: publisher,
		topic:     topic,
		ingestCfg: ingestCfg,
	}
}

func (s *ingestService) Upload(ctx context.Context, kbDBId string, in UploadDocumentInput) (*respond.DocumentInfo, error) {
	base, err := s.kbRepo.GetByDBId(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, xerr.ErrKBNotFound
	}

	// 校验先于任何状态变更：被拒的上传不留任何痕迹
	contentType := normalizeContentType(in.ContentType, in.Filename)
	if !s.typeAllowed(contentType) {
		return nil, xerr.ErrUnsupportedFormat
	}
	if s.ingestCfg.MaxDocumentSize > 0 && int64(len(in.Content)) > s.ingestCfg.MaxDocumentSize {
		return nil, xerr.ErrSizeExceeded
	}
	if len(in.Content) == 0 {
		return nil, xerr.New(xerr.BadRequest, "empty document")
	}

	sum := sha256.Sum256(in.Content)
	now := time.Now()
	doc := &kb.KnowledgeDocument{
		DocId:            util.GenerateID("doc"),
		KBDBId:           kbDBId,
		Filename:         in.Filename,
		ContentType:      contentType,
		SizeBytes:        int64(len(in.Content)),
		ContentHash:      hex.EncodeToString(sum[:]),
		Content:          string(in.Content),
		ProcessingStatus: kb.DocStatusPending,
		UploadTime:       now,
	}
	if err := s.docRepo.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.dispatch(ctx, base, doc)
	return docToInfo(doc), nil
}

// dispatch 优先投递 Kafka；无 publisher 或投递失败时同步摄取兜底
func (s *ingestService) dispatch(ctx context.Context, base *kb.KnowledgeBase, doc *kb.KnowledgeDocument) {
	if s.publisher != nil {
		payload, _ := json.Marshal(queue.IngestEvent{KBDBId: base.DBId, DocID: doc.DocId})
		_, err := s.publisher.Publish(ctx, mq.Message{
			Topic: s.topic,
			Key:   []byte(doc.DocId),
			Value: payload,
		})
		if err == nil {
			zlog.Info("ingest event published",
				zap.String("kb_db_id", base.DBId),
				zap.String("doc_id", doc.DocId),
				zap.String("topic", s.topic),
			)
			return
		}
		zlog.Warn("ingest event publish failed, falling back to inline ingest",
			zap.String("doc_id", doc.DocId), zap.Error(err))
	}
	if _, err := s.pipeline.Ingest(ctx, pipeline.IngestRequest{
		KBDBId:     base.DBId,
		DocID:      doc.DocId,
		Collection: base.ActiveCollection,
		Generation: base.GraphGeneration,
	}); err != nil {
		zlog.Error("inline ingest failed", zap.String("doc_id", doc.DocId), zap.Error(err))
	}
}

func (s *ingestService) ListDocuments(ctx context.Context, kbDBId string) ([]*respond.DocumentInfo, error) {
	base, err := s.kbRepo.GetByDBId(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, xerr.ErrKBNotFound
	}
	docs, err := s.docRepo.ListDocumentsByKB(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	out := make([]*respond.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, docToInfo(d))
	}
	return out, nil
}

func (s *ingestService) GetDocument(ctx context.Context, kbDBId, docID string) (*respond.DocumentDetail, error) {
	doc, err := s.loadOwnedDocument(ctx, kbDBId, docID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.docRepo.ListAttempts(ctx, docID)
	if err != nil {
		return nil, err
	}
	detail := &respond.DocumentDetail{DocumentInfo: *docToInfo(doc)}
	for _, at := range attempts {
		info := respond.IngestAttemptInfo{
			Attempt:       at.Attempt,
			Status:        at.Status,
			ErrorMsg:      at.ErrorMsg,
			ChunksWritten: at.ChunksWritten,
			StartedAt:     at.StartedAt,
		}
		if at.FinishedAt.Valid {
			t := at.FinishedAt.Time
			info.FinishedAt = &t
		}
		detail.Attempts = append(detail.Attempts, info)
	}
	chunks, err := s.docRepo.ListChunksByDoc(ctx, docID)
	if err != nil {
		return nil, err
	}
	for _, ch := range chunks {
		detail.Chunks = append(detail.Chunks, respond.ChunkInfo{
			ChunkID:  ch.ChunkId,
			Position: ch.Position,
			Content:  ch.Content,
		})
	}
	return detail, nil
}

func (s *ingestService) Reingest(ctx context.Context, kbDBId, docID string) error {
	base, err := s.kbRepo.GetByDBId(ctx, kbDBId)
	if err != nil {
		return err
	}
	if base == nil {
		return xerr.ErrKBNotFound
	}
	doc, err := s.loadOwnedDocument(ctx, kbDBId, docID)
	if err != nil {
		return err
	}
	if doc.ProcessingStatus == kb.DocStatusProcessing {
		return xerr.New(xerr.Conflict, "document is being processed")
	}
	s.dispatch(ctx, base, doc)
	return nil
}

func (s *ingestService) DeleteDocument(ctx context.Context, kbDBId, docID string) error {
	base, err := s.kbRepo.GetByDBId(ctx, kbDBId)
	if err != nil {
		return err
	}
	if base == nil {
		return xerr.ErrKBNotFound
	}
	if _, err := s.loadOwnedDocument(ctx, kbDBId, docID); err != nil {
		return err
	}
	// 先清向量库，再级联删 MySQL 行
	if err := s.pipeline.PurgeDocument(ctx, base.ActiveCollection, docID); err != nil {
		zlog.Warn("document vector purge failed", zap.String("doc_id", docID), zap.Error(err))
	}
	if err := s.docRepo.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	zlog.Info("document deleted", zap.String("kb_db_id", kbDBId), zap.String("doc_id", docID))
	return nil
}

func (s *ingestService) loadOwnedDocument(ctx context.Context, kbDBId, docID string) (*kb.KnowledgeDocument, error) {
	doc, err := s.docRepo.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.KBDBId != kbDBId {
		return nil, xerr.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *ingestService) typeAllowed(contentType string) bool {
	for _, t := range s.ingestCfg.AllowedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// normalizeContentType 去掉参数部分；浏览器缺省时按扩展名兜底
func normalizeContentType(ct, filename string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".md"):
		return "text/markdown"
	case strings.HasSuffix(strings.ToLower(filename), ".json"):
		return "application/json"
	case strings.HasSuffix(strings.ToLower(filename), ".csv"):
		return "text/csv"
	case strings.HasSuffix(strings.ToLower(filename), ".txt"):
		return "text/plain"
	}
	return ct
}

func docToInfo(d *kb.KnowledgeDocument) *respond.DocumentInfo {
	return &respond.DocumentInfo{
		DocID:            d.DocId,
		KBDBId:           d.KBDBId,
		Filename:         d.Filename,
		ContentType:      d.ContentType,
		SizeBytes:        d.SizeBytes,
		ProcessingStatus: d.ProcessingStatus,
		ErrorMsg:         d.ErrorMsg,
		Attempt:          d.Attempt,
		ChunkCount:       d.ChunkCount,
		UploadTime:       d.UploadTime,
	}
}
