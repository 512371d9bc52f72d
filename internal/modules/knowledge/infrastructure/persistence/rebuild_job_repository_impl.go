package persistence

import (
	"context"
	"database/sql"
	"time"

	"ShopSage/internal/modules/knowledge/domain/kb"
	"ShopSage/internal/modules/knowledge/domain/repository"

	"gorm.io/gorm"
)

type rebuildJobRepositoryImpl struct {
	db *gorm.DB
}

func NewRebuildJobRepository(db *gorm.DB) repository.RebuildJobRepository {
	return &rebuildJobRepositoryImpl{db: db}
}

func (r *rebuildJobRepositoryImpl) Create(ctx context.Context, job *kb.RebuildJob) error {
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *rebuildJobRepositoryImpl) GetByJobId(ctx context.Context, jobID string) (*kb.RebuildJob, error) {
	var job kb.RebuildJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&job).Error
	if err == nil {
		return &job, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *rebuildJobRepositoryImpl) GetLatestByKB(ctx context.Context, kbDBId string) (*kb.RebuildJob, error) {
	var job kb.RebuildJob
	err := r.db.WithContext(ctx).
		Where("kb_db_id = ?", kbDBId).
		Order("id desc").
		Take(&job).Error
	if err == nil {
		return &job, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *rebuildJobRepositoryImpl) UpdateStatus(ctx context.Context, jobID, status, errMsg string) error {
	updates := map[string]interface{}{
		"status":    status,
		"error_msg": errMsg,
	}
	if status != kb.RebuildStatusRunning {
		updates["finished_at"] = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return r.db.WithContext(ctx).
		Model(&kb.RebuildJob{}).
		Where("job_id = ?", jobID).
		Updates(updates).Error
}

func (r *rebuildJobRepositoryImpl) AddCounters(ctx context.Context, jobID string, doneDelta, failedDelta int) error {
	return r.db.WithContext(ctx).
		Model(&kb.RebuildJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"done_docs":   gorm.Expr("done_docs + ?", doneDelta),
			"failed_docs": gorm.Expr("failed_docs + ?", failedDelta),
		}).Error
}

func (r *rebuildJobRepositoryImpl) SetTotals(ctx context.Context, jobID string, totalDocs int) error {
	return r.db.WithContext(ctx).
		Model(&kb.RebuildJob{}).
		Where("job_id = ?", jobID).
		Update("total_docs", totalDocs).Error
}
