package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"database/sql"
	"strings"

	"ShopSage/internal/modules/knowledge/application/dto/request"
	"ShopSage/internal/modules/knowledge/application/dto/respond"
	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/pipeline"
	"ShopSage/pkg/util"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"

	"go.uber.org/zap"
)

type KBService interface {
	Create(ctx context.Context, req request.CreateKBRequest) (*respond.KBInfo, error)
	Get(ctx context.Context, dbID string) (*respond.KBInfo, error)
	List(ctx context.Context) ([]*respond.KBInfo, error)
	Update(ctx context.Context, dbID string, req request.UpdateKBRequest) (*respond.KBInfo, error)
	Delete(ctx context.Context, dbID string) error
}

type kbService struct {
	kbRepo  repository.KBRepository
	docRepo repository.DocumentRepository
	vs      repository.VectorStore
	gs      repository.GraphStore
}

func NewKBService(kbRepo repository.KBRepository, docRepo repository.DocumentRepository, vs repository.VectorStore, gs repository.GraphStore) KBService {
	return &kbService{kbRepo: kbRepo, docRepo: docRepo, vs: vs, gs: gs}
}

// Create 建库：生成租户隔离的 db_id，预创建首代集合并绑定查询别名
func (s *kbService) Create(ctx context.Context, req request.CreateKBRequest) (*respond.KBInfo, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, xerr.New(xerr.BadRequest, "missing name")
	}
	if req.Dimension <= 0 || req.Dimension > 4096 {
		return nil, xerr.New(xerr.BadRequest, "invalid dimension")
	}

	sum := sha256.Sum256([]byte(name + "|" + util.GenerateUUID()))
	dbID := "kb_" + hex.EncodeToString(sum[:])[:16]

	const firstGeneration = 1
	collection := pipeline.CollectionName(dbID, firstGeneration)

	base := &kb.KnowledgeBase{
		DBId:             dbID,
		Name:             name,
		Description:      strings.TrimSpace(req.Description),
		EmbedModel:       strings.TrimSpace(req.EmbedModel),
		Dimension:        req.Dimension,
		ChunkSize:        req.ChunkSize,
		ChunkOverlap:     req.ChunkOverlap,
		ActiveCollection: collection,
		GraphGeneration:  firstGeneration,
		Status:           kb.KBStatusActive,
	}
	if base.ChunkSize <= 0 {
		base.ChunkSize = 500
	}
	if base.ChunkOverlap < 0 {
		base.ChunkOverlap = 50
	}
	if req.VectorWeight != nil {
		base.VectorWeight = sql.NullFloat64{Float64: *req.VectorWeight, Valid: true}
	}
	if req.GraphWeight != nil {
		base.GraphWeight = sql.NullFloat64{Float64: *req.GraphWeight, Valid: true}
	}
	if req.DualEvidenceBonus != nil {
		base.DualEvidenceBonus = sql.NullFloat64{Float64: *req.DualEvidenceBonus, Valid: true}
	}
	if req.ExpandDepth != nil {
		base.ExpandDepth = sql.NullInt64{Int64: int64(*req.ExpandDepth), Valid: true}
	}
	if req.AllowUngrounded != nil {
		base.AllowUngrounded = *req.AllowUngrounded
	}

	if err := s.vs.EnsureCollection(ctx, collection, req.Dimension); err != nil {
		zlog.Error("kb collection create failed", zap.String("kb_db_id", dbID), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if err := s.vs.BindAlias(ctx, pipeline.AliasName(dbID), collection); err != nil {
		_ = s.vs.DropCollection(ctx, collection)
		return nil, xerr.ErrServerError
	}
	if err := s.kbRepo.Create(ctx, base); err != nil {
		_ = s.vs.DropAlias(ctx, pipeline.AliasName(dbID))
		_ = s.vs.DropCollection(ctx, collection)
		return nil, err
	}

	zlog.Info("knowledge base created",
		zap.String("kb_db_id", dbID),
		zap.String("name", name),
		zap.Int("dimension", req.Dimension),
	)
	return s.toInfo(ctx, base), nil
}

func (s *kbService) Get(ctx context.Context, dbID string) (*respond.KBInfo, error) {
	base, err := s.kbRepo.GetByDBId(ctx, dbID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, xerr.ErrKBNotFound
	}
	return s.toInfo(ctx, base), nil
}

func (s *kbService) List(ctx context.Context) ([]*respond.KBInfo, error) {
	bases, err := s.kbRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*respond.KBInfo, 0, len(bases))
	for _, b := range bases {
		out = append(out, s.toInfo(ctx, b))
	}
	return out, nil
}

func (s *kbService) Update(ctx context.Context, dbID string, req request.UpdateKBRequest) (*respond.KBInfo, error) {
	base, err := s.kbRepo.GetByDBId(ctx, dbID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, xerr.ErrKBNotFound
	}

	updates := map[string]interface{}{}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.ChunkSize != nil && *req.ChunkSize > 0 {
		updates["chunk_size"] = *req.ChunkSize
	}
	if req.ChunkOverlap != nil && *req.ChunkOverlap >= 0 {
		updates["chunk_overlap"] = *req.ChunkOverlap
	}
	if req.VectorWeight != nil {
		updates["vector_weight"] = *req.VectorWeight
	}
	if req.GraphWeight != nil {
		updates["graph_weight"] = *req.GraphWeight
	}
	if req.DualEvidenceBonus != nil {
		updates["dual_evidence_bonus"] = *req.DualEvidenceBonus
	}
	if req.ExpandDepth != nil {
		updates["expand_depth"] = *req.ExpandDepth
	}
	if req.AllowUngrounded != nil {
		updates["allow_ungrounded"] = *req.AllowUngrounded
	}

	if len(updates) > 0 {
		if err := s.kbRepo.Update(ctx, dbID, updates); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, dbID)
}

// Delete 软删元数据并清理向量集合、别名与图命名空间
func (s *kbService) Delete(ctx context.Context, dbID string) error {
	base, err := s.kbRepo.GetByDBId(ctx, dbID)
	if err != nil {
		return err
	}
	if base == nil {
		return xerr.ErrKBNotFound
	}

	if err := s.kbRepo.SoftDelete(ctx, dbID); err != nil {
		return err
	}
	if err := s.vs.DropAlias(ctx, pipeline.AliasName(dbID)); err != nil {
		zlog.Warn("kb alias drop failed", zap.String("kb_db_id", dbID), zap.Error(err))
	}
	if err := s.vs.DropCollection(ctx, base.ActiveCollection); err != nil {
		zlog.Warn("kb collection drop failed", zap.String("kb_db_id", dbID), zap.Error(err))
	}
	if err := s.gs.DeleteByKB(ctx, dbID); err != nil {
		zlog.Warn("kb graph delete failed", zap.String("kb_db_id", dbID), zap.Error(err))
	}
	zlog.Info("knowledge base deleted", zap.String("kb_db_id", dbID))
	return nil
}

func (s *kbService) toInfo(ctx context.Context, base *kb.KnowledgeBase) *respond.KBInfo {
	info := &respond.KBInfo{
		DBId:            base.DBId,
		Name:            base.Name,
		Description:     base.Description,
		EmbedModel:      base.EmbedModel,
		Dimension:       base.Dimension,
		ChunkSize:       base.ChunkSize,
		ChunkOverlap:    base.ChunkOverlap,
		AllowUngrounded: base.AllowUngrounded,
		Status:          base.Status,
		CreatedAt:       base.CreatedAt,
	}
	if base.VectorWeight.Valid {
		v := base.VectorWeight.Float64
		info.VectorWeight = &v
	}
	if base.GraphWeight.Valid {
		v := base.GraphWeight.Float64
		info.GraphWeight = &v
	}
	if base.DualEvidenceBonus.Valid {
		v := base.DualEvidenceBonus.Float64
		info.DualEvidenceBonus = &v
	}
	if base.ExpandDepth.Valid {
		v := int(base.ExpandDepth.Int64)
		info.ExpandDepth = &v
	}

	if docs, err := s.docRepo.ListDocumentsByKB(ctx, base.DBId); err == nil {
		info.DocumentCount = int64(len(docs))
	}
	if n, err := s.docRepo.CountChunksByKB(ctx, base.DBId); err == nil {
		info.ChunkCount = n
	}
	return info
}
