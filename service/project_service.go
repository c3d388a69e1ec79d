package service

import (
	"context"
	"errors"
	"strings"

	"evolabeler/dao"
	entity2 "evolabeler/entity"
)

var (
	ErrProjectNameRequired = errors.New("项目名称不能为空")
	ErrClassNamesInvalid   = errors.New("类别名称列表不合法")
)

// ProjectService 管理检测项目元数据。
type ProjectService struct {
	projectDAO *dao.ProjectDAO
}

func NewProjectService() *ProjectService {
	return &ProjectService{
		projectDAO: dao.NewProjectDAO(),
	}
}

func (s *ProjectService) CreateProject(ctx context.Context, project *entity2.Project) error {
	if project == nil {
		return dao.ErrNilEntity
	}
	project.Name = strings.TrimSpace(project.Name)
	if project.Name == "" {
		return ErrProjectNameRequired
	}
	if project.TaskType == "" {
		project.TaskType = "detect"
	}

	names := project.ClassNameList()
	if len(project.ClassNames) > 0 && names == nil {
		return ErrClassNamesInvalid
	}
	if project.NumClasses == nil {
		count := uint(len(names))
		project.NumClasses = &count
	}

	return s.projectDAO.Save(ctx, project)
}

func (s *ProjectService) GetProject(ctx context.Context, id uint) (*entity2.Project, error) {
	return s.projectDAO.FindByID(ctx, id)
}

func (s *ProjectService) GetAllProjects(ctx context.Context, params entity2.QueryParams) (entity2.PageResult, error) {
	projects, total, err := s.projectDAO.FindAll(ctx, params)
	if err != nil {
		return entity2.PageResult{}, err
	}
	return entity2.PageResult{
		Total: total,
		List:  projects,
	}, nil
}
