package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"ShopSage/internal/modules/knowledge/domain/kb"
	krepo "ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/recommend/application/dto/request"
	"ShopSage/internal/modules/recommend/application/dto/respond"
	"ShopSage/internal/modules/recommend/domain/entity"
	"ShopSage/internal/modules/recommend/domain/recommendation"
	"ShopSage/internal/modules/recommend/domain/repository"
	"ShopSage/internal/modules/recommend/infrastructure/assemble"
	"ShopSage/internal/modules/recommend/infrastructure/fusion"
	"ShopSage/internal/modules/recommend/infrastructure/retrieval"
	"ShopSage/internal/config"
	"ShopSage/pkg/util"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"
)

type RecommendService interface {
	// Recommend 一轮推荐咨询：检索、融合、装配，并把问答写入会话
	Recommend(ctx context.Context, kbDBId string, req request.ChatRecommendationRequest) (*respond.ChatRecommendationResponse, error)
	History(ctx context.Context, sessionID string, limit int) (*respond.SessionHistoryResponse, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type recommendService struct {
	kbRepo      krepo.KBRepository
	sessionRepo repository.SessionRepository
	retriever   *retrieval.HybridRetriever
	assembler   *assemble.Assembler
	conf        config.RetrievalConfig
}

func NewRecommendService(
	kbRepo krepo.KBRepository,
	sessionRepo repository.SessionRepository,
	retriever *retrieval.HybridRetriever,
	assembler *assemble.Assembler,
	conf config.RetrievalConfig,
) RecommendService {
	return &recommendService{
		kbRepo:      kbRepo,
		sessionRepo: sessionRepo,
		retriever:   retriever,
		assembler:   assembler,
		conf:        conf,
	}
}

func (s *recommendService) Recommend(ctx context.Context, kbDBId string, req request.ChatRecommendationRequest) (*respond.ChatRecommendationResponse, error) {
	start := time.Now()
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, xerr.New(xerr.BadRequest, "empty message")
	}

	base, err := s.kbRepo.GetByDBId(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, xerr.ErrKBNotFound
	}

	sessionID := strings.TrimSpace(req.SessionId)
	if sessionID == "" {
		sessionID = util.GenerateID("sess")
	}
	if _, err := s.sessionRepo.EnsureSession(ctx, sessionID, kbDBId, req.Lang); err != nil {
		return nil, err
	}
	if err := s.sessionRepo.AppendMessage(ctx, &entity.ChatMessage{
		SessionId: sessionID,
		Role:      entity.MessageRoleUser,
		Content:   message,
	}); err != nil {
		return nil, err
	}

	filters := toFilters(req.Filters)
	candidates, trace, err := s.retriever.Retrieve(ctx, base, message, filters, req.TopK)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.conf.DefaultTopK
	}
	if topK > s.conf.MaxTopK {
		topK = s.conf.MaxTopK
	}
	fused := fusion.Fuse(candidates, s.weightsFor(base), topK)

	allowUngrounded := s.conf.AllowUngrounded || base.AllowUngrounded
	asm := s.assembler.Assemble(fused, filters, allowUngrounded, req.Lang)
	trace.TotalMs = time.Since(start).Milliseconds()

	s.snapshotAssistant(ctx, sessionID, asm, trace)

	zlog.Info("recommendation served",
		zap.String("kb_db_id", kbDBId),
		zap.String("session_id", sessionID),
		zap.String("trace_id", trace.TraceID),
		zap.Int("products", len(asm.Products)),
		zap.Bool("degraded", trace.Degraded),
		zap.Int64("total_ms", trace.TotalMs),
	)

	return &respond.ChatRecommendationResponse{
		SessionId: sessionID,
		Reply:     asm.Reply,
		Products:  asm.Products,
		Evidence:  asm.Evidence,
		Trace:     trace,
		Timestamp: time.Now(),
	}, nil
}

// snapshotAssistant 快照当次推荐进会话；失败只记日志，不影响响应
func (s *recommendService) snapshotAssistant(ctx context.Context, sessionID string, asm *assemble.Result, trace *recommendation.Trace) {
	productsJSON, _ := json.Marshal(asm.Products)
	evidenceJSON, _ := json.Marshal(asm.Evidence)
	if err := s.sessionRepo.AppendMessage(ctx, &entity.ChatMessage{
		SessionId:    sessionID,
		Role:         entity.MessageRoleAssistant,
		Content:      asm.Reply,
		ProductsJSON: string(productsJSON),
		EvidenceJSON: string(evidenceJSON),
		TraceId:      trace.TraceID,
	}); err != nil {
		zlog.Warn("assistant message snapshot failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *recommendService) History(ctx context.Context, sessionID string, limit int) (*respond.SessionHistoryResponse, error) {
	sess, err := s.sessionRepo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, xerr.New(xerr.NotFound, "session not found")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := s.sessionRepo.ListMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := &respond.SessionHistoryResponse{SessionId: sessionID}
	for _, m := range msgs {
		out.Messages = append(out.Messages, respond.SessionMessage{
			Role:      m.Role,
			Content:   m.Content,
			Products:  m.ProductsJSON,
			Evidence:  m.EvidenceJSON,
			TraceId:   m.TraceId,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func (s *recommendService) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessionRepo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return xerr.New(xerr.NotFound, "session not found")
	}
	return s.sessionRepo.DeleteSession(ctx, sessionID)
}

// weightsFor KB 级覆盖优先，未设置的权重落回全局配置
func (s *recommendService) weightsFor(base *kb.KnowledgeBase) recommendation.FusionWeights {
	w := recommendation.FusionWeights{
		Vector:    s.conf.VectorWeight,
		Graph:     s.conf.GraphWeight,
		DualBonus: s.conf.DualEvidenceBonus,
	}
	if base.VectorWeight.Valid {
		w.Vector = base.VectorWeight.Float64
	}
	if base.GraphWeight.Valid {
		w.Graph = base.GraphWeight.Float64
	}
	if base.DualEvidenceBonus.Valid {
		w.DualBonus = base.DualEvidenceBonus.Float64
	}
	return w
}

func toFilters(in *request.FiltersRequest) recommendation.Filters {
	if in == nil {
		return recommendation.Filters{}
	}
	return recommendation.Filters{
		PriceMin:   in.PriceMin,
		PriceMax:   in.PriceMax,
		Brands:     in.Brands,
		Categories: in.Categories,
		Tags:       in.Tags,
	}
}
