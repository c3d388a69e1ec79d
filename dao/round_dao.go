package dao

import (
	"context"
	entity2 "evolabeler/entity"
	"evolabeler/infrastructure/db"
	"fmt"

	"gorm.io/gorm"
)

type RoundDAO struct {
	DB *gorm.DB
}

// NewRoundDAO 创建 RoundDAO，并注入全局数据库连接。
func NewRoundDAO() *RoundDAO {
	return &RoundDAO{
		DB: db.DB,
	}
}

// Save 保存一条轮次记录。
func (d *RoundDAO) Save(ctx context.Context, round *entity2.EvoRound) error {
	logger := daoLogger().With("dao", "RoundDAO", "method", "Save")
	if round == nil {
		logger.Warn("save round skipped: round is nil")
		return ErrNilEntity
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		logger.Error("save round failed: with context", "error", err)
		return fmt.Errorf("save round failed: %w", err)
	}
	if err := dbConn.Create(round).Error; err != nil {
		logger.Error("save round failed: db create", "error", err)
		return fmt.Errorf("save round failed: %w", err)
	}
	logger.Info("save round success", "id", round.ID, "job_id", round.JobID, "round", round.RoundNumber)
	return nil
}

// FindAll 按查询参数分页获取轮次记录与总数。
func (d *RoundDAO) FindAll(ctx context.Context, params entity2.QueryParams) ([]entity2.EvoRound, int64, error) {
	logger := daoLogger().With("dao", "RoundDAO", "method", "FindAll")
	var rounds []entity2.EvoRound
	var total int64

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		logger.Error("find rounds failed: with context", "error", err)
		return nil, 0, fmt.Errorf("find rounds failed: %w", err)
	}

	dbConn = dbConn.Model(&entity2.EvoRound{})

	// 1. 指标组合过滤
	if params.ProjectID != nil {
		dbConn = dbConn.Where("project_id = ?", *params.ProjectID)
	}
	if params.JobID != "" {
		dbConn = dbConn.Where("job_id = ?", params.JobID)
	}
	if params.RoundNumber != nil {
		dbConn = dbConn.Where("round_number = ?", *params.RoundNumber)
	}
	if params.WasRolledBack != nil {
		dbConn = dbConn.Where("was_rolled_back = ?", *params.WasRolledBack)
	}

	// 2. 获取总数
	err = dbConn.Count(&total).Error
	if err != nil {
		logger.Error("count rounds failed", "error", err)
		return nil, 0, fmt.Errorf("count rounds failed: %w", err)
	}

	// 3. 执行分页查询 (轮次升序，同任务内按执行顺序展示)
	offset, limit := pagination(params)
	err = dbConn.Order("round_number ASC, id ASC").Offset(offset).Limit(limit).Find(&rounds).Error
	if err != nil {
		logger.Error("query rounds failed", "error", err)
		return nil, 0, fmt.Errorf("query rounds failed: %w", err)
	}

	return rounds, total, err
}
