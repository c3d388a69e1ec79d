package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"evolabeler/config"
	"evolabeler/dao"
	entity2 "evolabeler/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNoUploadedImages = errors.New("任务没有携带任何初始图像")
	ErrJobNotFound      = errors.New("任务不存在")
)

// JobService 负责任务生命周期：创建记录、在后台 goroutine 中驱动
// RoundController 跑到 FINALIZE、对外提供任务与轮次查询。
// 每个任务持有独立的控制器实例，任务之间没有共享可变状态。
type JobService struct {
	jobDAO     *dao.JobDAO
	roundDAO   *dao.RoundDAO
	versionDAO *dao.ModelVersionDAO
	projectDAO *dao.ProjectDAO
	status     *JobStatusService
}

func NewJobService() *JobService {
	return &JobService{
		jobDAO:     dao.NewJobDAO(),
		roundDAO:   dao.NewRoundDAO(),
		versionDAO: dao.NewModelVersionDAO(),
		projectDAO: dao.NewProjectDAO(),
		status:     NewJobStatusService(),
	}
}

// StartJob 创建任务记录并启动后台自进化循环，立即返回任务。
// maxRounds 非正时取配置默认。
func (s *JobService) StartJob(ctx context.Context, projectID uint, uploadedImages []string, maxRounds int) (*entity2.EvoJob, error) {
	logger := serviceLogger().With("service", "JobService", "method", "StartJob", "project_id", projectID)

	if len(uploadedImages) == 0 {
		logger.Warn("start job rejected: no uploaded images")
		return nil, ErrNoUploadedImages
	}

	project, err := s.projectDAO.FindByID(ctx, projectID)
	if err != nil {
		logger.Error("start job failed: project lookup", "error", err)
		return nil, fmt.Errorf("find project failed: %w", err)
	}

	if maxRounds <= 0 {
		if config.AppConfig != nil {
			maxRounds = config.AppConfig.EvoLoop.MaxRoundsOrDefault()
		} else {
			maxRounds = config.DefaultMaxRounds
		}
	}

	job := &entity2.EvoJob{
		JobID:           uuid.NewString(),
		ProjectID:       projectID,
		Status:          entity2.JobStatusUpload,
		ProgressMessage: fmt.Sprintf("Job accepted with %d uploaded images", len(uploadedImages)),
		MaxRounds:       maxRounds,
	}
	if err := s.jobDAO.Save(ctx, job); err != nil {
		logger.Error("start job failed: persist job", "error", err)
		return nil, fmt.Errorf("save job failed: %w", err)
	}

	if err := s.status.PublishStatus(ctx, job.JobID, entity2.JobStatusUpload, job.ProgressMessage); err != nil {
		logger.Error("publish initial job status failed", "job_id", job.JobID, "error", err)
	}

	go s.runLoop(project, job, uploadedImages)

	logger.Info("job started", "job_id", job.JobID, "max_rounds", maxRounds)
	return job, nil
}

// runLoop 在后台驱动一个任务的完整循环。HTTP 请求上下文不传入：
// 任务生命周期独立于发起它的请求。
func (s *JobService) runLoop(project *entity2.Project, job *entity2.EvoJob, uploadedImages []string) {
	logger := serviceLogger().With("service", "JobService", "method", "runLoop", "job_id", job.JobID)

	controller, err := NewRoundController(project, RoundControllerDeps{
		Executor:   NewSSHExecutorService(),
		Source:     NewCrawlerService(),
		Strategist: NewQwenStrategyService(),
		Publisher:  s.status,
		JobDAO:     s.jobDAO,
		RoundDAO:   s.roundDAO,
		VersionDAO: s.versionDAO,
		Loop:       s.loopConfig(),
		WorkDir:    filepath.Join("data", "evoloop", job.JobID),
	})
	if err != nil {
		logger.Error("construct round controller failed", "error", err)
		s.markJobFailed(job.JobID, fmt.Sprintf("controller construction failed: %v", err))
		return
	}

	final := controller.Run(context.Background(), NewInitialState(project.ID, job.JobID, uploadedImages, job.MaxRounds))
	logger.Info("job loop finished",
		"total_rounds", final.TotalRounds,
		"failed", final.Failed,
		"reason", final.FinalReason,
	)
}

func (s *JobService) loopConfig() config.EvoLoopConfig {
	if config.AppConfig == nil {
		return config.EvoLoopConfig{}
	}
	return config.AppConfig.EvoLoop
}

func (s *JobService) markJobFailed(jobID, reason string) {
	ctx := context.Background()
	if err := s.jobDAO.UpdateStatus(ctx, jobID, entity2.JobStatusFailed, reason); err != nil {
		serviceLogger().Error("mark job failed error", "job_id", jobID, "error", err)
	}
	if err := s.status.PublishStatus(ctx, jobID, entity2.JobStatusFailed, reason); err != nil {
		serviceLogger().Error("publish failed status error", "job_id", jobID, "error", err)
	}
}

// GetJob 返回任务记录，优先叠加 redis 中更实时的进度信息。
func (s *JobService) GetJob(ctx context.Context, jobID string) (*entity2.EvoJob, error) {
	job, err := s.jobDAO.FindByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if live, statusErr := s.status.GetStatus(ctx, jobID); statusErr == nil {
		job.Status = live.Status
		job.ProgressMessage = live.Message
	}
	return job, nil
}

func (s *JobService) GetAllJobs(ctx context.Context, params entity2.QueryParams) (entity2.PageResult, error) {
	jobs, total, err := s.jobDAO.FindAll(ctx, params)
	if err != nil {
		return entity2.PageResult{}, err
	}
	return entity2.PageResult{
		Total: total,
		List:  jobs,
	}, nil
}

// GetJobRounds 返回任务的轮次审计记录。
func (s *JobService) GetJobRounds(ctx context.Context, jobID string, params entity2.QueryParams) (entity2.PageResult, error) {
	if jobID == "" {
		return entity2.PageResult{}, ErrJobIDRequired
	}
	params.JobID = jobID

	rounds, total, err := s.roundDAO.FindAll(ctx, params)
	if err != nil {
		return entity2.PageResult{}, err
	}
	return entity2.PageResult{
		Total: total,
		List:  rounds,
	}, nil
}
