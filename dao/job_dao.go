package dao

import (
	"context"
	entity2 "evolabeler/entity"
	"evolabeler/infrastructure/db"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type JobDAO struct {
	DB *gorm.DB
}

func NewJobDAO() *JobDAO {
	return &JobDAO{
		DB: db.DB,
	}
}

func (d *JobDAO) Save(ctx context.Context, job *entity2.EvoJob) error {
	if job == nil {
		return ErrNilEntity
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return fmt.Errorf("save job failed: %w", err)
	}
	return dbConn.Create(job).Error
}

func (d *JobDAO) FindByJobID(ctx context.Context, jobID string) (*entity2.EvoJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find job failed: %w", err)
	}

	var job entity2.EvoJob
	err = dbConn.Where("job_id = ?", jobID).First(&job).Error
	return &job, err
}

// UpdateStatus 更新任务状态与进度描述。
func (d *JobDAO) UpdateStatus(ctx context.Context, jobID, status, message string) error {
	if strings.TrimSpace(jobID) == "" {
		return ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return fmt.Errorf("update job status failed: %w", err)
	}

	result := dbConn.Model(&entity2.EvoJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"status":           status,
			"progress_message": message,
		})
	if result.Error != nil {
		return fmt.Errorf("update job status failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateOutcome 在 FINALIZE 时记录总轮数与最终决策原因。
func (d *JobDAO) UpdateOutcome(ctx context.Context, jobID string, totalRounds int, finalReason string) error {
	if strings.TrimSpace(jobID) == "" {
		return ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return fmt.Errorf("update job outcome failed: %w", err)
	}

	result := dbConn.Model(&entity2.EvoJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"total_rounds": totalRounds,
			"final_reason": finalReason,
		})
	if result.Error != nil {
		return fmt.Errorf("update job outcome failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *JobDAO) FindAll(ctx context.Context, params entity2.QueryParams) ([]entity2.EvoJob, int64, error) {
	var jobs []entity2.EvoJob
	var total int64

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("find jobs failed: %w", err)
	}

	dbConn = dbConn.Model(&entity2.EvoJob{})

	// 1. 指标组合过滤
	if params.ProjectID != nil {
		dbConn = dbConn.Where("project_id = ?", *params.ProjectID)
	}
	if status := strings.TrimSpace(params.Status); status != "" {
		dbConn = dbConn.Where("status = ?", status)
	}

	// 2. 获取总数
	err = dbConn.Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("count jobs failed: %w", err)
	}

	// 3. 执行分页查询 (默认 ID 降序)
	offset, limit := pagination(params)
	err = dbConn.Order("id DESC").Offset(offset).Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query jobs failed: %w", err)
	}

	return jobs, total, err
}
