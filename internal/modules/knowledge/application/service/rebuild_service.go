package service

import (
	"context"

	"ShopSage/internal/modules/knowledge/application/dto/respond"
	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/pipeline"
	"ShopSage/pkg/xerr"
)

// RebuildService 是 IndexManager 的薄封装，负责 DTO 转换与任务查询
type RebuildService interface {
	Start(ctx context.Context, kbDBId string) (*respond.RebuildJobInfo, error)
	Cancel(ctx context.Context, jobID string) error
	Status(ctx context.Context, jobID string) (*respond.RebuildJobInfo, error)
	// LatestForKB 返回该 KB 最近一次重建任务（可能为 nil）
	LatestForKB(ctx context.Context, kbDBId string) (*respond.RebuildJobInfo, error)
}

type rebuildService struct {
	manager *pipeline.IndexManager
	jobRepo repository.RebuildJobRepository
}

func NewRebuildService(manager *pipeline.IndexManager, jobRepo repository.RebuildJobRepository) RebuildService {
	return &rebuildService{manager: manager, jobRepo: jobRepo}
}

func (s *rebuildService) Start(ctx context.Context, kbDBId string) (*respond.RebuildJobInfo, error) {
	jobID, err := s.manager.StartRebuild(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	return s.Status(ctx, jobID)
}

func (s *rebuildService) Cancel(ctx context.Context, jobID string) error {
	return s.manager.Cancel(ctx, jobID)
}

func (s *rebuildService) Status(ctx context.Context, jobID string) (*respond.RebuildJobInfo, error) {
	job, err := s.manager.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return jobToInfo(job), nil
}

func (s *rebuildService) LatestForKB(ctx context.Context, kbDBId string) (*respond.RebuildJobInfo, error) {
	job, err := s.jobRepo.GetLatestByKB(ctx, kbDBId)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, xerr.New(xerr.NotFound, "no rebuild job for this knowledge base")
	}
	return jobToInfo(job), nil
}

func jobToInfo(job *kb.RebuildJob) *respond.RebuildJobInfo {
	info := &respond.RebuildJobInfo{
		JobID:      job.JobId,
		KBDBId:     job.KBDBId,
		Status:     job.Status,
		TotalDocs:  job.TotalDocs,
		DoneDocs:   job.DoneDocs,
		FailedDocs: job.FailedDocs,
		ErrorMsg:   job.ErrorMsg,
		StartedAt:  job.StartedAt,
	}
	if job.FinishedAt.Valid {
		t := job.FinishedAt.Time
		info.FinishedAt = &t
	}
	return info
}
