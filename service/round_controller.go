package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"evolabeler/config"
	"evolabeler/dao"
	entity2 "evolabeler/entity"
)

const (
	DefaultDetectConfThreshold = 0.25
	DefaultDetectIoUThreshold  = 0.45

	// 每个搜索词至少抓取的图片数
	minImagesPerQuery = 5

	// 轮次记录的持久化状态标签
	roundStatusCompleted    = "completed"
	roundStatusGateRejected = "gate_rejected"
	roundStatusRolledBack   = "rolled_back"
	roundStatusFailed       = "failed"
)

var (
	ErrProjectRequired    = errors.New("project is required")
	ErrJobIDEmpty         = errors.New("job id is required")
	ErrExecutorRequired   = errors.New("training executor is required")
	ErrSourceRequired     = errors.New("acquisition source is required")
	ErrStrategistRequired = errors.New("strategy generator is required")
	ErrPublisherRequired  = errors.New("status publisher is required")
)

// RoundControllerDeps 聚合控制器的全部协作对象。
// Executor/Source/Strategist/Publisher 必填；决策服务为 nil 时使用默认
// 实现；DAO 为 nil 时跳过持久化（单元测试不依赖数据库）。
type RoundControllerDeps struct {
	Executor   TrainingExecutor
	Source     AcquisitionSource
	Strategist StrategyGenerator
	Publisher  StatusPublisher

	Uncertainty *UncertaintyService
	PseudoLabel *PseudoLabelService
	Gate        *QualityGateService
	Evaluation  *EvaluationService
	Guardian    *GuardianService
	Dataset     *DatasetService

	JobDAO     *dao.JobDAO
	RoundDAO   *dao.RoundDAO
	VersionDAO *dao.ModelVersionDAO

	Loop    config.EvoLoopConfig
	WorkDir string
}

// RoundController 驱动单个任务的自进化循环。
// 每个任务构造一个实例，协作对象全部注入，无进程级共享状态；
// 控制流走显式状态机，RoundState 在步骤之间按值传递。
type RoundController struct {
	project *entity2.Project
	deps    RoundControllerDeps
	logger  *slog.Logger
}

func NewRoundController(project *entity2.Project, deps RoundControllerDeps) (*RoundController, error) {
	if project == nil {
		return nil, ErrProjectRequired
	}
	if deps.Executor == nil {
		return nil, ErrExecutorRequired
	}
	if deps.Source == nil {
		return nil, ErrSourceRequired
	}
	if deps.Strategist == nil {
		return nil, ErrStrategistRequired
	}
	if deps.Publisher == nil {
		return nil, ErrPublisherRequired
	}

	if deps.Uncertainty == nil {
		deps.Uncertainty = NewUncertaintyService()
	}
	if deps.PseudoLabel == nil {
		deps.PseudoLabel = NewPseudoLabelService()
	}
	if deps.Gate == nil {
		deps.Gate = NewQualityGateService()
	}
	if deps.Evaluation == nil {
		deps.Evaluation = NewEvaluationService()
	}
	if deps.Guardian == nil {
		deps.Guardian = NewGuardianService()
	}
	if deps.Dataset == nil {
		deps.Dataset = NewDatasetService()
	}
	if strings.TrimSpace(deps.WorkDir) == "" {
		deps.WorkDir = filepath.Join("data", "evoloop")
	}

	return &RoundController{
		project: project,
		deps:    deps,
		logger:  serviceLogger().With("service", "RoundController", "project_id", project.ID),
	}, nil
}

// NewInitialState 构造任务的初始轮次状态。maxRounds 非正时取配置默认。
func NewInitialState(projectID uint, jobID string, uploadedImages []string, maxRounds int) entity2.RoundState {
	if maxRounds <= 0 {
		maxRounds = config.DefaultMaxRounds
	}
	return entity2.RoundState{
		State:          entity2.StateInitRound,
		ProjectID:      projectID,
		JobID:          jobID,
		MaxRounds:      maxRounds,
		UploadedImages: uploadedImages,
	}
}

// Run 驱动状态机直到 FINALIZE 完成。上层取消通过 ctx 传入，
// 取消后当前步骤收尾并进入 FINALIZE，不会中途丢状态。
func (c *RoundController) Run(ctx context.Context, state entity2.RoundState) entity2.RoundState {
	for !state.Done {
		if ctx.Err() != nil && state.State != entity2.StateFinalize {
			state.Errors = append(state.Errors, fmt.Sprintf("job cancelled: %v", ctx.Err()))
			state.Failed = true
			state.FinalReason = "Job cancelled"
			state.State = entity2.StateFinalize
		}
		state = c.Step(ctx, state)
	}
	return state
}

// Step 执行一步状态转移，返回修改后的状态副本。
func (c *RoundController) Step(ctx context.Context, state entity2.RoundState) entity2.RoundState {
	logger := c.logger.With("job_id", state.JobID, "round", state.RoundNumber, "state", state.State.String())
	logger.Info("round controller step begin")

	switch state.State {
	case entity2.StateInitRound:
		return c.stepInitRound(ctx, state)
	case entity2.StateAnalyze:
		return c.stepAnalyze(ctx, state)
	case entity2.StateAcquire:
		return c.stepAcquire(ctx, state)
	case entity2.StateTrain:
		return c.stepTrain(ctx, state)
	case entity2.StateEvaluate:
		return c.stepEvaluate(ctx, state)
	case entity2.StateNextRound:
		return c.stepNextRound(state)
	case entity2.StateFinalize:
		return c.stepFinalize(ctx, state)
	default:
		logger.Error("unknown controller state", "raw_state", int(state.State))
		state.Errors = append(state.Errors, fmt.Sprintf("unknown state %d", int(state.State)))
		state.Failed = true
		state.FinalReason = "Internal state machine error"
		state.State = entity2.StateFinalize
		return state
	}
}

func (c *RoundController) stepInitRound(ctx context.Context, state entity2.RoundState) entity2.RoundState {
	state.RoundNumber++
	state.ClearRoundWork()

	message := fmt.Sprintf("Round %d/%d started", state.RoundNumber, state.MaxRounds)
	c.publish(ctx, state, entity2.JobStatusInference, message)
	c.updateJob(ctx, state, entity2.JobStatusInference, message)

	state.State = entity2.StateAnalyze
	return state
}

func (c *RoundController) stepAnalyze(parent context.Context, state entity2.RoundState) entity2.RoundState {
	logger := c.logger.With("job_id", state.JobID, "round", state.RoundNumber, "stage", "analyze")
	ctx, cancel := context.WithTimeout(parent, c.deps.Loop.AnalysisTimeoutOrDefault())
	defer cancel()

	images := state.AllImagePaths()
	if len(images) == 0 {
		logger.Warn("analyze stage failed: no input images")
		state.Errors = append(state.Errors, "analyze: no input images")
		state.Failed = true
		state.FinalReason = "No input images available for analysis"
		state.State = entity2.StateFinalize
		return state
	}

	result, err := c.deps.Executor.RunDetect(ctx, c.currentModelPath(state), images,
		DefaultDetectConfThreshold, DefaultDetectIoUThreshold)
	if err != nil {
		// 外部调用失败按"本阶段无产出"处理，不终结任务
		logger.Error("inference failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("analyze: inference failed: %v", err))
	}
	state.Predictions = result.Predictions

	c.publish(ctx, state, entity2.JobStatusAnalysis,
		fmt.Sprintf("Round %d: analyzing %d predictions", state.RoundNumber, len(state.Predictions)))
	c.updateJob(ctx, state, entity2.JobStatusAnalysis, "Analyzing model uncertainty")

	analysis := c.deps.Uncertainty.BuildAcquisitionRequest(state.Predictions)
	state.Analysis = &analysis
	logger.Info("uncertainty analysis complete",
		"uncertainty_score", analysis.Metrics.UncertaintyScore,
		"priority", analysis.Metrics.Priority,
		"should_acquire", analysis.Acquisition.ShouldAcquire,
	)

	if !analysis.Acquisition.ShouldAcquire {
		state.FinalReason = "Model uncertainty is low, no further data acquisition required"
		state.State = entity2.StateFinalize
		return state
	}

	strategy, err := c.deps.Strategist.GenerateStrategy(ctx, analysis.HighValueImages, c.project.ClassNameList())
	if err != nil {
		logger.Error("strategy generation failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("analyze: strategy generation failed: %v", err))
	}
	state.SearchQueries = strategy.Queries
	state.SceneType = strategy.SceneType

	if len(state.SearchQueries) == 0 {
		state.FinalReason = "Analyzer produced no acquisition directives"
		state.State = entity2.StateFinalize
		return state
	}
	state.State = entity2.StateAcquire
	return state
}

func (c *RoundController) stepAcquire(parent context.Context, state entity2.RoundState) entity2.RoundState {
	logger := c.logger.With("job_id", state.JobID, "round", state.RoundNumber, "stage", "acquire")
	ctx, cancel := context.WithTimeout(parent, c.deps.Loop.AcquisitionTimeoutOrDefault())
	defer cancel()

	c.publish(ctx, state, entity2.JobStatusAcquisition,
		fmt.Sprintf("Round %d: acquiring new samples via %d queries", state.RoundNumber, len(state.SearchQueries)))
	c.updateJob(ctx, state, entity2.JobStatusAcquisition, "Acquiring new training samples")

	limitPerQuery := minImagesPerQuery
	if state.Analysis != nil && state.Analysis.Acquisition.SuggestedCount > 0 {
		perQuery := state.Analysis.Acquisition.SuggestedCount / len(state.SearchQueries)
		if perQuery > limitPerQuery {
			limitPerQuery = perQuery
		}
	}

	images, err := c.deps.Source.FetchImages(ctx, state.SearchQueries, limitPerQuery)
	if err != nil {
		logger.Error("acquisition failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("acquire: %v", err))
	}
	state.AcquiredImages = images
	state.CrawledCount = len(images)
	logger.Info("acquisition complete", "acquired", state.CrawledCount)

	if state.CrawledCount == 0 {
		state.FinalReason = "No new samples acquired"
		state.State = entity2.StateFinalize
		return state
	}
	state.State = entity2.StateTrain
	return state
}

func (c *RoundController) stepTrain(parent context.Context, state entity2.RoundState) entity2.RoundState {
	logger := c.logger.With("job_id", state.JobID, "round", state.RoundNumber, "stage", "train")
	ctx, cancel := context.WithTimeout(parent, c.deps.Loop.TrainingTimeoutOrDefault())
	defer cancel()

	c.publish(ctx, state, entity2.JobStatusPseudoLabeling,
		fmt.Sprintf("Round %d: generating pseudo labels for %d images", state.RoundNumber, state.CrawledCount))
	c.updateJob(ctx, state, entity2.JobStatusPseudoLabeling, "Generating and filtering pseudo labels")

	result, err := c.deps.Executor.RunDetect(ctx, c.currentModelPath(state), state.AcquiredImages,
		DefaultDetectConfThreshold, DefaultDetectIoUThreshold)
	if err != nil {
		logger.Error("pseudo label inference failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("train: pseudo label inference failed: %v", err))
	}

	labels, quality := c.deps.PseudoLabel.Process(result.Predictions)
	state.PseudoLabels = labels
	state.Quality = &quality
	logger.Info("pseudo label filtering complete",
		"kept", quality.FilteredCount,
		"total", quality.TotalCount,
		"avg_quality", quality.AverageQualityScore,
	)

	gate := c.deps.Gate.Check(labels, state.TrainingSet)
	state.Gate = &gate
	if !gate.Passed {
		// 门禁拒绝不是错误，是放行决策本身
		logger.Warn("quality gate rejected dataset", "summary", gate.Summary)
		c.persistRound(ctx, state, roundStatusGateRejected)
		state.FinalReason = gate.Summary
		state.State = entity2.StateFinalize
		return state
	}

	c.publish(ctx, state, entity2.JobStatusTraining,
		fmt.Sprintf("Round %d: training on %d pseudo labeled samples", state.RoundNumber, len(labels)))
	c.updateJob(ctx, state, entity2.JobStatusTraining, "Training model on admitted dataset")

	localDir := filepath.Join(c.deps.WorkDir, state.JobID, fmt.Sprintf("round_%d", state.RoundNumber))
	if _, err := c.deps.Dataset.AssembleTrainingSet(labels, c.project.ClassNameList(), localDir); err != nil {
		logger.Error("training set assembly failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("train: assemble training set failed: %v", err))
		state.Failed = true
		state.FinalReason = "Training set assembly failed"
		state.State = entity2.StateFinalize
		return state
	}

	remoteDir := path.Join(c.trainerWorkDir(), "datasets", state.JobID, fmt.Sprintf("round_%d", state.RoundNumber))
	remoteManifest, err := c.deps.Dataset.UploadTrainingSet(localDir, remoteDir)
	if err != nil {
		logger.Error("training set upload failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("train: upload training set failed: %v", err))
		state.Failed = true
		state.FinalReason = "Training set upload failed"
		state.State = entity2.StateFinalize
		return state
	}

	trainResult, err := c.deps.Executor.RunTrain(ctx, TrainSpec{
		DatasetYAML: remoteManifest,
		BaseWeights: c.currentModelPath(state),
	})
	if err != nil {
		logger.Error("training failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("train: %v", err))
		state.Failed = true
		state.FinalReason = "Training execution failed"
		state.State = entity2.StateFinalize
		return state
	}
	state.ModelPath = trainResult.ModelPath
	state.Evaluation = &trainResult.Metrics
	state.TrainingSet = append(state.TrainingSet, labels...)
	logger.Info("training complete", "model_path", trainResult.ModelPath)

	state.State = entity2.StateEvaluate
	return state
}

func (c *RoundController) stepEvaluate(ctx context.Context, state entity2.RoundState) entity2.RoundState {
	logger := c.logger.With("job_id", state.JobID, "round", state.RoundNumber, "stage", "evaluate")

	c.publish(ctx, state, entity2.JobStatusTraining,
		fmt.Sprintf("Round %d: evaluating model on holdout set", state.RoundNumber))

	// holdout 只创建一次，之后每轮校验哈希；不一致是配置级故障，直接终结
	if len(state.HoldoutSet) == 0 {
		state.HoldoutSet = c.deps.Evaluation.CreateHoldoutSet(state.AllImagePaths())
		state.HoldoutHash = c.deps.Evaluation.ComputeSetHash(state.HoldoutSet)
		logger.Info("holdout set created", "size", len(state.HoldoutSet), "hash", state.HoldoutHash)
	} else if err := c.deps.Evaluation.VerifyHoldoutSet(state.HoldoutSet, state.HoldoutHash); err != nil {
		logger.Error("holdout verification failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("evaluate: %v", err))
		state.Failed = true
		state.FinalReason = "Holdout set hash mismatch"
		c.persistRound(ctx, state, roundStatusFailed)
		state.State = entity2.StateFinalize
		return state
	}

	trainLoss := 0.0
	if state.Evaluation != nil {
		trainLoss = state.Evaluation.TrainLoss
	}

	metrics := c.deps.Evaluation.EmptyMetrics()
	// holdout 推理与分析阶段共用同一超时上限
	detectCtx, cancelDetect := context.WithTimeout(ctx, c.deps.Loop.AnalysisTimeoutOrDefault())
	result, err := c.deps.Executor.RunDetect(detectCtx, state.ModelPath, state.HoldoutSet,
		DefaultDetectConfThreshold, DefaultDetectIoUThreshold)
	cancelDetect()
	if err != nil {
		logger.Error("holdout evaluation failed", "error", err)
		state.Errors = append(state.Errors, fmt.Sprintf("evaluate: %v", err))
	} else if result.Metrics != nil {
		metrics = *result.Metrics
	}
	if metrics.TrainLoss == 0 {
		metrics.TrainLoss = trainLoss
	}
	state.Evaluation = &metrics

	prevBest := state.BestMetrics
	comparison := c.deps.Evaluation.CompareWithBest(metrics, prevBest)
	state.Comparison = &comparison

	calibration := c.deps.Evaluation.ComputeCalibration(metrics)
	state.Calibration = &calibration

	overfitting := c.deps.Evaluation.DetectOverfitting(metrics)
	var bestPerClass map[string]entity2.ClassMetrics
	if prevBest != nil {
		bestPerClass = prevBest.PerClass
	}
	forgetting := c.deps.Evaluation.DetectForgetting(metrics.PerClass, bestPerClass)

	health := c.deps.Guardian.CheckModelHealth(metrics, prevBest, state.RoundNumber, state.RoundsWithoutImprovement)
	state.Health = &health

	decision := c.deps.Evaluation.MakeContinuationDecision(comparison, overfitting, forgetting, state.RoundsWithoutImprovement)
	state.Decision = &decision
	logger.Info("continuation decision made",
		"action", decision.Action,
		"should_continue", decision.ShouldContinue,
		"should_rollback", decision.ShouldRollback,
		"confidence", decision.Confidence,
	)

	versionID := c.persistModelVersion(ctx, state, comparison.IsImproved, calibration)

	// 回滚裁决优先于一切其它信号
	if health.ShouldRollback || decision.ShouldRollback {
		rollback := c.deps.Guardian.RollbackToBest(ctx, state.ProjectID, versionID)
		state.Rollback = &rollback
		if rollback.Success {
			state.BestModelPath = c.bestModelPathAfterRollback(ctx, rollback, state.BestModelPath)
		} else {
			state.Errors = append(state.Errors, fmt.Sprintf("rollback failed: %s", rollback.Reason))
		}
		c.persistRound(ctx, state, roundStatusRolledBack)
		state.FinalReason = decision.Reason
		state.State = entity2.StateFinalize
		return state
	}

	c.persistRound(ctx, state, roundStatusCompleted)

	// rounds_without_improvement 只在 mAP50 有效提升时归零
	if comparison.IsImproved {
		state.BestMetrics = &metrics
		state.BestModelPath = state.ModelPath
		state.RoundsWithoutImprovement = 0
	} else {
		state.RoundsWithoutImprovement++
	}

	if !decision.ShouldContinue {
		state.FinalReason = decision.Reason
		state.State = entity2.StateFinalize
		return state
	}
	if state.RoundNumber >= state.MaxRounds {
		state.FinalReason = fmt.Sprintf("Reached maximum rounds (%d)", state.MaxRounds)
		state.State = entity2.StateFinalize
		return state
	}
	state.State = entity2.StateNextRound
	return state
}

// stepNextRound 是回到 INIT_ROUND 的显式边；轮次自增与工作状态
// 清空发生在 INIT_ROUND 中，跨轮字段在此原样保留。
func (c *RoundController) stepNextRound(state entity2.RoundState) entity2.RoundState {
	state.State = entity2.StateInitRound
	return state
}

func (c *RoundController) stepFinalize(ctx context.Context, state entity2.RoundState) entity2.RoundState {
	logger := c.logger.With("job_id", state.JobID, "stage", "finalize")

	state.TotalRounds = state.RoundNumber
	if state.FinalReason == "" {
		if state.Decision != nil {
			state.FinalReason = state.Decision.Reason
		} else {
			state.FinalReason = "Loop finished"
		}
	}

	status := entity2.JobStatusComplete
	if state.Failed {
		status = entity2.JobStatusFailed
	}

	c.publish(ctx, state, status, state.FinalReason)
	c.updateJob(ctx, state, status, state.FinalReason)
	if c.deps.JobDAO != nil {
		if err := c.deps.JobDAO.UpdateOutcome(ctx, state.JobID, state.TotalRounds, state.FinalReason); err != nil {
			logger.Error("record job outcome failed", "error", err)
		}
	}

	logger.Info("evolution loop finished",
		"status", status,
		"total_rounds", state.TotalRounds,
		"reason", state.FinalReason,
		"error_count", len(state.Errors),
	)
	state.Done = true
	return state
}

func (c *RoundController) currentModelPath(state entity2.RoundState) string {
	if state.ModelPath != "" {
		return state.ModelPath
	}
	if state.BestModelPath != "" {
		return state.BestModelPath
	}
	if config.AppConfig != nil {
		return config.AppConfig.Trainer.BaseWeights
	}
	return ""
}

func (c *RoundController) trainerWorkDir() string {
	if config.AppConfig != nil && strings.TrimSpace(config.AppConfig.Trainer.WorkDir) != "" {
		return config.AppConfig.Trainer.WorkDir
	}
	return DefaultTrainerWorkDir
}

func (c *RoundController) publish(ctx context.Context, state entity2.RoundState, status, message string) {
	if err := c.deps.Publisher.PublishStatus(ctx, state.JobID, status, message); err != nil {
		c.logger.Error("publish job status failed", "job_id", state.JobID, "status", status, "error", err)
	}
}

func (c *RoundController) updateJob(ctx context.Context, state entity2.RoundState, status, message string) {
	if c.deps.JobDAO == nil {
		return
	}
	if err := c.deps.JobDAO.UpdateStatus(ctx, state.JobID, status, message); err != nil {
		c.logger.Error("update job status failed", "job_id", state.JobID, "status", status, "error", err)
	}
}

// persistModelVersion 保存本轮模型版本并返回其 ID，供回滚时取消激活。
func (c *RoundController) persistModelVersion(ctx context.Context, state entity2.RoundState, isBest bool, calibration entity2.CalibrationMetrics) uint {
	if c.deps.VersionDAO == nil || state.Evaluation == nil {
		return 0
	}

	metricsJSON, err := json.Marshal(state.Evaluation)
	if err != nil {
		c.logger.Error("marshal evaluation metrics failed", "job_id", state.JobID, "error", err)
		metricsJSON = nil
	}
	version := &entity2.ModelVersion{
		ProjectID:         state.ProjectID,
		JobID:             state.JobID,
		RoundNumber:       state.RoundNumber,
		ModelPath:         state.ModelPath,
		Metrics:           metricsJSON,
		MAP50:             state.Evaluation.MAP50,
		ValidationSetHash: state.HoldoutHash,
		ValidationSetSize: len(state.HoldoutSet),
		CalibrationECE:    calibration.ECE,
		CalibrationMCE:    calibration.MCE,
		IsBest:            isBest,
		IsActive:          true,
	}
	if err := c.deps.VersionDAO.Save(ctx, version); err != nil {
		c.logger.Error("persist model version failed", "job_id", state.JobID, "round", state.RoundNumber, "error", err)
		return 0
	}
	return version.ID
}

func (c *RoundController) bestModelPathAfterRollback(ctx context.Context, rollback entity2.RollbackResult, fallback string) string {
	if c.deps.VersionDAO == nil || rollback.RolledBackTo == 0 {
		return fallback
	}
	version, err := c.deps.VersionDAO.FindByID(ctx, rollback.RolledBackTo)
	if err != nil || version.ModelPath == "" {
		return fallback
	}
	return version.ModelPath
}

// persistRound 落一条轮次审计记录；DAO 缺失时静默跳过。
func (c *RoundController) persistRound(ctx context.Context, state entity2.RoundState, status string) {
	if c.deps.RoundDAO == nil {
		return
	}

	round := &entity2.EvoRound{
		ProjectID:          state.ProjectID,
		JobID:              state.JobID,
		RoundNumber:        state.RoundNumber,
		InputImageCount:    len(state.UploadedImages),
		AcquiredImageCount: state.CrawledCount,
		PseudoLabelCount:   len(state.PseudoLabels),
		Status:             status,
	}
	if state.Quality != nil {
		avg := state.Quality.AverageQualityScore
		round.AvgQualityScore = &avg
	}
	if state.Gate != nil {
		passed := state.Gate.Passed
		round.GatePassed = &passed
		round.GateSummary = state.Gate.Summary
	}
	if state.Health != nil {
		round.HealthSeverity = state.Health.OverallSeverity
	}
	if state.Decision != nil {
		round.ShouldContinue = state.Decision.ShouldContinue
		round.ContinueReason = state.Decision.Reason
	}
	round.WasRolledBack = status == roundStatusRolledBack

	if state.BestMetrics != nil {
		round.MetricsBefore, _ = json.Marshal(state.BestMetrics)
	}
	if state.Evaluation != nil {
		round.MetricsAfter, _ = json.Marshal(state.Evaluation)
	}
	if state.Comparison != nil {
		round.MetricsDelta, _ = json.Marshal(state.Comparison)
	}

	if err := c.deps.RoundDAO.Save(ctx, round); err != nil {
		c.logger.Error("persist round failed", "job_id", state.JobID, "round", state.RoundNumber, "error", err)
	}
}
