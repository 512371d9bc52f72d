package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/mq"
	"ShopSage/internal/modules/knowledge/infrastructure/pipeline"
	"ShopSage/pkg/zlog"

	"go.uber.org/zap"
)

// IngestEvent 上传接口发布、本 worker 消费的摄取事件
type IngestEvent struct {
	KBDBId string `json:"kb_db_id"`
	DocID  string `json:"doc_id"`
}

// IngestConsumerWorker 从 Kafka 拉摄取事件并驱动摄取管线。
// 附带一个周期扫描，把进程崩溃后卡在 processing 的文档修正为 failed。
type IngestConsumerWorker struct {
	consumer mq.Consumer
	docRepo  repository.DocumentRepository
	pipeline *pipeline.IngestPipeline

	staleAfter    time.Duration
	sweepInterval time.Duration
}

func NewIngestConsumerWorker(consumer mq.Consumer, docRepo repository.DocumentRepository, p *pipeline.IngestPipeline) *IngestConsumerWorker {
	return &IngestConsumerWorker{
		consumer:      consumer,
		docRepo:       docRepo,
		pipeline:      p,
		staleAfter:    30 * time.Minute,
		sweepInterval: 5 * time.Minute,
	}
}

func (w *IngestConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.docRepo == nil {
		return errors.New("document repo is nil")
	}
	if w.pipeline == nil {
		return errors.New("pipeline is nil")
	}

	go w.sweepLoop(ctx)
	return w.consumer.Run(ctx, w)
}

func (w *IngestConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	var ev IngestEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		zlog.Warn("ingest consumer invalid event payload", zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}
	ev.KBDBId = strings.TrimSpace(ev.KBDBId)
	ev.DocID = strings.TrimSpace(ev.DocID)
	if ev.KBDBId == "" || ev.DocID == "" {
		zlog.Warn("ingest consumer missing kb_db_id/doc_id", zap.String("topic", msg.Topic))
		return nil
	}

	doc, err := w.docRepo.GetDocument(ctx, ev.DocID)
	if err != nil {
		zlog.Warn("ingest consumer get document failed", zap.String("doc_id", ev.DocID), zap.Error(err))
		return err
	}
	if doc == nil {
		// 文档可能在事件落地前被删除
		return nil
	}
	if doc.ProcessingStatus == kb.DocStatusCompleted {
		return nil
	}

	if _, err := w.pipeline.Ingest(ctx, pipeline.IngestRequest{KBDBId: ev.KBDBId, DocID: ev.DocID}); err != nil {
		// 管线内部已把文档落为 failed 并记录 attempt，不再重投
		zlog.Warn("ingest consumer pipeline failed",
			zap.String("kb_db_id", ev.KBDBId),
			zap.String("doc_id", ev.DocID),
			zap.Error(err),
		)
	}
	return nil
}

func (w *IngestConsumerWorker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepStale(ctx)
		}
	}
}

func (w *IngestConsumerWorker) sweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	docs, err := w.docRepo.ListStaleProcessing(ctx, cutoff, 100)
	if err != nil {
		zlog.Warn("stale processing sweep failed", zap.Error(err))
		return
	}
	for _, doc := range docs {
		if err := w.docRepo.UpdateDocumentStatus(ctx, doc.DocId, kb.DocStatusFailed, "processing timed out"); err != nil {
			zlog.Warn("stale document repair failed", zap.String("doc_id", doc.DocId), zap.Error(err))
			continue
		}
		zlog.Info("stale processing document repaired", zap.String("doc_id", doc.DocId))
	}
}

func (w *IngestConsumerWorker) Close() error {
	if w == nil || w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}
