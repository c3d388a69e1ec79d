package dao

import (
	"context"
	"errors"
	entity2 "evolabeler/entity"
	"evolabeler/infrastructure/db"
	"fmt"

	"gorm.io/gorm"
)

type ModelVersionDAO struct {
	DB *gorm.DB
}

func NewModelVersionDAO() *ModelVersionDAO {
	return &ModelVersionDAO{
		DB: db.DB,
	}
}

// Save 保存一条模型版本记录。version 标记为 is_best 时，
// 同一事务内清掉该项目其它版本的 is_best，保证唯一。
func (d *ModelVersionDAO) Save(ctx context.Context, version *entity2.ModelVersion) error {
	if version == nil {
		return ErrNilEntity
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return fmt.Errorf("save model version failed: %w", err)
	}

	return dbConn.Transaction(func(tx *gorm.DB) error {
		if version.IsBest {
			if err := tx.Model(&entity2.ModelVersion{}).
				Where("project_id = ? AND is_best = ?", version.ProjectID, true).
				Update("is_best", false).Error; err != nil {
				return fmt.Errorf("clear previous best failed: %w", err)
			}
		}
		if version.IsActive {
			if err := tx.Model(&entity2.ModelVersion{}).
				Where("project_id = ? AND is_active = ?", version.ProjectID, true).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("clear previous active failed: %w", err)
			}
		}
		if err := tx.Create(version).Error; err != nil {
			return fmt.Errorf("save model version failed: %w", err)
		}
		return nil
	})
}

func (d *ModelVersionDAO) FindByID(ctx context.Context, id uint) (*entity2.ModelVersion, error) {
	if id == 0 {
		return nil, ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find model version by id failed: %w", err)
	}

	var version entity2.ModelVersion
	err = dbConn.First(&version, id).Error
	return &version, err
}

// FindBestByProjectID 返回项目当前的最佳版本；没有 is_best 标记时
// 退化为按 map50 降序取最高者。
func (d *ModelVersionDAO) FindBestByProjectID(ctx context.Context, projectID uint) (*entity2.ModelVersion, error) {
	if projectID == 0 {
		return nil, ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find best model version failed: %w", err)
	}

	var version entity2.ModelVersion
	err = dbConn.Where("project_id = ? AND is_best = ?", projectID, true).
		Order("id DESC").First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = dbConn.Where("project_id = ?", projectID).
			Order("map50 DESC").First(&version).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoBestVersion
		}
	}
	if err != nil {
		return nil, fmt.Errorf("find best model version failed: %w", err)
	}
	return &version, nil
}

func (d *ModelVersionDAO) FindActiveByProjectID(ctx context.Context, projectID uint) (*entity2.ModelVersion, error) {
	if projectID == 0 {
		return nil, ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find active model version failed: %w", err)
	}

	var version entity2.ModelVersion
	err = dbConn.Where("project_id = ? AND is_active = ?", projectID, true).
		Order("id DESC").First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveModel
	}
	if err != nil {
		return nil, fmt.Errorf("find active model version failed: %w", err)
	}
	return &version, nil
}

// SetActive 原子翻转激活版本：同一事务内先取消该项目的全部激活，
// 再激活目标版本；目标不存在时整个事务回滚，不会留下无激活版本的中间态。
func (d *ModelVersionDAO) SetActive(ctx context.Context, projectID, versionID uint) error {
	if projectID == 0 || versionID == 0 {
		return ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return fmt.Errorf("set active model version failed: %w", err)
	}

	return dbConn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&entity2.ModelVersion{}).
			Where("project_id = ? AND is_active = ?", projectID, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate current version failed: %w", err)
		}

		result := tx.Model(&entity2.ModelVersion{}).
			Where("id = ? AND project_id = ?", versionID, projectID).
			Update("is_active", true)
		if result.Error != nil {
			return fmt.Errorf("activate version %d failed: %w", versionID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("activate version %d failed: %w", versionID, gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// Deactivate 取消单个版本的激活标记。
func (d *ModelVersionDAO) Deactivate(ctx context.Context, versionID uint) error {
	if versionID == 0 {
		return ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return fmt.Errorf("deactivate model version failed: %w", err)
	}

	result := dbConn.Model(&entity2.ModelVersion{}).
		Where("id = ?", versionID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("deactivate model version failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *ModelVersionDAO) FindAll(ctx context.Context, params entity2.QueryParams) ([]entity2.ModelVersion, int64, error) {
	var versions []entity2.ModelVersion
	var total int64

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("find model versions failed: %w", err)
	}

	dbConn = dbConn.Model(&entity2.ModelVersion{})

	// 1. 指标组合过滤
	if params.ProjectID != nil {
		dbConn = dbConn.Where("project_id = ?", *params.ProjectID)
	}
	if params.JobID != "" {
		dbConn = dbConn.Where("job_id = ?", params.JobID)
	}
	if params.IsBest != nil {
		dbConn = dbConn.Where("is_best = ?", *params.IsBest)
	}
	if params.IsActive != nil {
		dbConn = dbConn.Where("is_active = ?", *params.IsActive)
	}

	// 2. 排序规则 (根据 map50)
	orderStr := "id DESC"
	switch params.MAP50Sort {
	case "asc":
		orderStr = "map50 ASC"
	case "desc":
		orderStr = "map50 DESC"
	}

	// 3. 获取总数
	err = dbConn.Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("count model versions failed: %w", err)
	}

	// 4. 执行分页查询
	offset, limit := pagination(params)
	err = dbConn.Order(orderStr).Offset(offset).Limit(limit).Find(&versions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query model versions failed: %w", err)
	}

	return versions, total, err
}
