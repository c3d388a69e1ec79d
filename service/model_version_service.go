package service

import (
	"context"
	"errors"

	"evolabeler/dao"
	entity2 "evolabeler/entity"
)

// ModelVersionService 提供模型版本查询与人工回滚入口。
type ModelVersionService struct {
	versionDAO *dao.ModelVersionDAO
	guardian   *GuardianService
}

func NewModelVersionService() *ModelVersionService {
	versionDAO := dao.NewModelVersionDAO()
	return &ModelVersionService{
		versionDAO: versionDAO,
		guardian:   NewGuardianServiceWithDAO(versionDAO),
	}
}

func (s *ModelVersionService) GetAllVersions(ctx context.Context, params entity2.QueryParams) (entity2.PageResult, error) {
	versions, total, err := s.versionDAO.FindAll(ctx, params)
	if err != nil {
		return entity2.PageResult{}, err
	}
	return entity2.PageResult{
		Total: total,
		List:  versions,
	}, nil
}

func (s *ModelVersionService) GetActiveVersion(ctx context.Context, projectID uint) (*entity2.ModelVersion, error) {
	return s.versionDAO.FindActiveByProjectID(ctx, projectID)
}

// RollbackProject 人工触发回滚：停用当前激活版本并切回历史最佳。
// 项目当前没有激活版本不阻塞回滚，直接激活最佳版本。
func (s *ModelVersionService) RollbackProject(ctx context.Context, projectID uint) (entity2.RollbackResult, error) {
	logger := serviceLogger().With("service", "ModelVersionService", "method", "RollbackProject", "project_id", projectID)

	if projectID == 0 {
		return entity2.RollbackResult{}, dao.ErrInvalidID
	}

	var currentID uint
	active, err := s.versionDAO.FindActiveByProjectID(ctx, projectID)
	switch {
	case err == nil:
		currentID = active.ID
	case errors.Is(err, dao.ErrNoActiveModel):
		logger.Warn("no active model version, rolling back without deactivation")
	default:
		logger.Error("query active model version failed", "error", err)
		return entity2.RollbackResult{}, err
	}

	result := s.guardian.RollbackToBest(ctx, projectID, currentID)
	if !result.Success {
		logger.Warn("manual rollback failed", "reason", result.Reason)
	} else {
		logger.Info("manual rollback success", "rolled_back_to", result.RolledBackTo)
	}
	return result, nil
}
