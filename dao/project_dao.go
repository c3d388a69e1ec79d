package dao

import (
	"context"
	entity2 "evolabeler/entity"
	"evolabeler/infrastructure/db"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type ProjectDAO struct {
	DB *gorm.DB
}

func NewProjectDAO() *ProjectDAO {
	return &ProjectDAO{
		DB: db.DB,
	}
}

func (d *ProjectDAO) Save(ctx context.Context, project *entity2.Project) error {
	if project == nil {
		return ErrNilEntity
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return fmt.Errorf("save project failed: %w", err)
	}

	var count int64
	err = dbConn.Model(&entity2.Project{}).Where("name = ?", project.Name).Count(&count).Error
	if err != nil {
		return fmt.Errorf("check project name failed: %w", err)
	}
	if count > 0 {
		return ErrAlreadyExists
	}

	return dbConn.Create(project).Error
}

func (d *ProjectDAO) FindByID(ctx context.Context, id uint) (*entity2.Project, error) {
	if id == 0 {
		return nil, ErrInvalidID
	}

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find project failed: %w", err)
	}

	var project entity2.Project
	err = dbConn.First(&project, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("find project failed: %w", err)
	}
	return &project, nil
}

func (d *ProjectDAO) FindAll(ctx context.Context, params entity2.QueryParams) ([]entity2.Project, int64, error) {
	var projects []entity2.Project
	var total int64

	dbConn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("find projects failed: %w", err)
	}

	dbConn = dbConn.Model(&entity2.Project{})

	// 1. 名称与任务类型过滤
	if name := strings.TrimSpace(params.Name); name != "" {
		dbConn = dbConn.Where("name LIKE ?", "%"+name+"%")
	}
	if taskType := strings.TrimSpace(params.TaskType); taskType != "" {
		dbConn = dbConn.Where("task_type = ?", taskType)
	}

	// 2. 获取总数
	err = dbConn.Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("count projects failed: %w", err)
	}

	// 3. 执行分页查询
	offset, limit := pagination(params)
	err = dbConn.Order("id DESC").Offset(offset).Limit(limit).Find(&projects).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query projects failed: %w", err)
	}

	return projects, total, err
}
