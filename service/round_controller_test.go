package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"evolabeler/config"
	entity2 "evolabeler/entity"

	"github.com/stretchr/testify/assert"
)

type fakeLoopExecutor struct {
	detectFn        func(call int, modelPath string, sources []string) (DetectResult, error)
	trainFn         func(call int, spec TrainSpec) (TrainResult, error)
	detectCalls     int
	trainCalls      int
	detectDeadlines []bool
}

func (f *fakeLoopExecutor) RunDetect(ctx context.Context, modelPath string, sources []string, confThreshold, iouThreshold float64) (DetectResult, error) {
	call := f.detectCalls
	f.detectCalls++
	_, hasDeadline := ctx.Deadline()
	f.detectDeadlines = append(f.detectDeadlines, hasDeadline)
	if f.detectFn == nil {
		return DetectResult{}, nil
	}
	return f.detectFn(call, modelPath, sources)
}

func (f *fakeLoopExecutor) RunTrain(ctx context.Context, spec TrainSpec) (TrainResult, error) {
	call := f.trainCalls
	f.trainCalls++
	if f.trainFn == nil {
		return TrainResult{}, nil
	}
	return f.trainFn(call, spec)
}

type fakeAcquisitionSource struct {
	fetchFn    func(call int, queries []string, limitPerQuery int) ([]string, error)
	fetchCalls int
}

func (f *fakeAcquisitionSource) FetchImages(ctx context.Context, queries []string, limitPerQuery int) ([]string, error) {
	call := f.fetchCalls
	f.fetchCalls++
	if f.fetchFn == nil {
		return nil, nil
	}
	return f.fetchFn(call, queries, limitPerQuery)
}

type fakeStrategist struct {
	strategy SearchStrategy
	calls    int
}

func (f *fakeStrategist) GenerateStrategy(ctx context.Context, imagePaths []string, classNames []string) (SearchStrategy, error) {
	f.calls++
	return f.strategy, nil
}

type fakeStatusRecorder struct {
	statuses []string
	messages []string
}

func (f *fakeStatusRecorder) PublishStatus(ctx context.Context, jobID, status, message string) error {
	f.statuses = append(f.statuses, status)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeStatusRecorder) lastStatus() string {
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func testLoopProject() *entity2.Project {
	return &entity2.Project{
		ID:         7,
		Name:       "遥感目标检测",
		TaskType:   "detect",
		ClassNames: []byte(`["plane","ship","vehicle"]`),
	}
}

func newLoopController(t *testing.T, executor *fakeLoopExecutor, source *fakeAcquisitionSource, strategist *fakeStrategist, publisher *fakeStatusRecorder) *RoundController {
	t.Helper()
	dataset := newTestDatasetService(&fakeDatasetUploaderFactory{uploader: &fakeDatasetUploader{}})
	controller, err := NewRoundController(testLoopProject(), RoundControllerDeps{
		Executor:   executor,
		Source:     source,
		Strategist: strategist,
		Publisher:  publisher,
		Dataset:    dataset,
		WorkDir:    t.TempDir(),
	})
	assert.NoError(t, err)
	return controller
}

func singleBoxPredictions(paths []string, confidence float64) []entity2.ImagePrediction {
	predictions := make([]entity2.ImagePrediction, 0, len(paths))
	for _, path := range paths {
		predictions = append(predictions, entity2.ImagePrediction{
			ImagePath: path,
			Detections: []entity2.Detection{
				{ClassID: 0, X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1, Confidence: confidence},
			},
		})
	}
	return predictions
}

// pseudoLabelPredictions 构造能通过质量门禁的一批预测：
// 置信度高、签名互不重复、空间分布集中在 yBase 所在的行。
func pseudoLabelPredictions(paths []string, classID int, yBase float64) []entity2.ImagePrediction {
	predictions := make([]entity2.ImagePrediction, 0, len(paths))
	for i, path := range paths {
		predictions = append(predictions, entity2.ImagePrediction{
			ImagePath: path,
			Detections: []entity2.Detection{
				{
					ClassID:    classID,
					X:          (float64(i) + 0.5) / float64(len(paths)),
					Y:          yBase + 0.01*float64(i),
					Width:      0.05 + 0.001*float64(i),
					Height:     0.05,
					Confidence: 0.8 + 0.005*float64(i),
				},
			},
		})
	}
	return predictions
}

func createLoopImages(t *testing.T, n int, prefix string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		paths = append(paths, writeTestImage(t, dir, fmt.Sprintf("%s_%03d.jpg", prefix, i)))
	}
	return paths
}

func holdoutMetrics(mAP50, precision, recall, valLoss float64) *entity2.EvaluationMetrics {
	return &entity2.EvaluationMetrics{
		MAP50:     mAP50,
		MAP5095:   mAP50 * 0.7,
		Precision: precision,
		Recall:    recall,
		ValLoss:   valLoss,
	}
}

func TestNewRoundControllerValidatesDeps(t *testing.T) {
	executor := &fakeLoopExecutor{}
	source := &fakeAcquisitionSource{}
	strategist := &fakeStrategist{}
	publisher := &fakeStatusRecorder{}

	_, err := NewRoundController(nil, RoundControllerDeps{
		Executor: executor, Source: source, Strategist: strategist, Publisher: publisher,
	})
	assert.ErrorIs(t, err, ErrProjectRequired)

	_, err = NewRoundController(testLoopProject(), RoundControllerDeps{
		Source: source, Strategist: strategist, Publisher: publisher,
	})
	assert.ErrorIs(t, err, ErrExecutorRequired)

	_, err = NewRoundController(testLoopProject(), RoundControllerDeps{
		Executor: executor, Strategist: strategist, Publisher: publisher,
	})
	assert.ErrorIs(t, err, ErrSourceRequired)

	_, err = NewRoundController(testLoopProject(), RoundControllerDeps{
		Executor: executor, Source: source, Publisher: publisher,
	})
	assert.ErrorIs(t, err, ErrStrategistRequired)

	_, err = NewRoundController(testLoopProject(), RoundControllerDeps{
		Executor: executor, Source: source, Strategist: strategist,
	})
	assert.ErrorIs(t, err, ErrPublisherRequired)
}

func TestNewInitialStateDefaultsMaxRounds(t *testing.T) {
	state := NewInitialState(7, "job-1", []string{"a.jpg"}, 0)
	assert.Equal(t, config.DefaultMaxRounds, state.MaxRounds)
	assert.Equal(t, entity2.StateInitRound, state.State)
	assert.Equal(t, 0, state.RoundNumber)
}

func TestLoopStopsWhenUncertaintyLow(t *testing.T) {
	uploaded := []string{"/data/u1.jpg", "/data/u2.jpg"}
	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			return DetectResult{Predictions: singleBoxPredictions(sources, 0.95)}, nil
		},
	}
	source := &fakeAcquisitionSource{}
	strategist := &fakeStrategist{}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, source, strategist, publisher)

	final := controller.Run(context.Background(), NewInitialState(7, "job-low", uploaded, 5))

	assert.True(t, final.Done)
	assert.False(t, final.Failed)
	assert.Equal(t, 1, final.TotalRounds)
	assert.Contains(t, final.FinalReason, "uncertainty is low")
	assert.Equal(t, entity2.JobStatusComplete, publisher.lastStatus())
	assert.Equal(t, 0, source.fetchCalls)
	assert.Equal(t, 0, strategist.calls)
	assert.Equal(t, 0, executor.trainCalls)
}

func TestLoopFinalizesWhenNothingAcquired(t *testing.T) {
	uploaded := []string{"/data/u1.jpg", "/data/u2.jpg"}
	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			return DetectResult{Predictions: singleBoxPredictions(sources, 0.45)}, nil
		},
	}
	source := &fakeAcquisitionSource{}
	strategist := &fakeStrategist{strategy: SearchStrategy{Queries: []string{"plane 遥感影像"}}}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, source, strategist, publisher)

	final := controller.Run(context.Background(), NewInitialState(7, "job-empty", uploaded, 5))

	assert.True(t, final.Done)
	assert.Equal(t, "No new samples acquired", final.FinalReason)
	assert.Equal(t, 1, source.fetchCalls)
	assert.Equal(t, 0, executor.trainCalls)
	assert.Contains(t, publisher.statuses, entity2.JobStatusAcquisition)
}

func TestLoopFinalizesWhenGateRejects(t *testing.T) {
	uploaded := []string{"/data/u1.jpg", "/data/u2.jpg"}
	acquired := createLoopImages(t, 3, "gate")
	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			if call == 0 {
				return DetectResult{Predictions: singleBoxPredictions(sources, 0.45)}, nil
			}
			// 伪标签太少，样本数门禁必然拦截
			return DetectResult{Predictions: pseudoLabelPredictions(sources, 0, 0.1)}, nil
		},
	}
	source := &fakeAcquisitionSource{
		fetchFn: func(call int, queries []string, limitPerQuery int) ([]string, error) {
			return acquired, nil
		},
	}
	strategist := &fakeStrategist{strategy: SearchStrategy{Queries: []string{"plane"}}}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, source, strategist, publisher)

	final := controller.Run(context.Background(), NewInitialState(7, "job-gate", uploaded, 5))

	assert.True(t, final.Done)
	assert.False(t, final.Failed)
	assert.NotNil(t, final.Gate)
	assert.False(t, final.Gate.Passed)
	assert.Contains(t, final.FinalReason, "Quality gate FAILED")
	assert.Equal(t, 0, executor.trainCalls)
	assert.Equal(t, entity2.JobStatusComplete, publisher.lastStatus())
}

func TestLoopRunsFullRoundThenStops(t *testing.T) {
	uploaded := createLoopImages(t, 8, "upload")
	acquired := createLoopImages(t, 12, "acq")
	round1 := holdoutMetrics(0.50, 0.52, 0.50, 0.40)

	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			switch call {
			case 0:
				return DetectResult{Predictions: singleBoxPredictions(sources, 0.45)}, nil
			case 1:
				return DetectResult{Predictions: pseudoLabelPredictions(sources, 0, 0.1)}, nil
			case 2:
				return DetectResult{Metrics: round1}, nil
			default:
				// 第二轮模型已经自信，循环自然收敛
				return DetectResult{Predictions: singleBoxPredictions(sources, 0.95)}, nil
			}
		},
		trainFn: func(call int, spec TrainSpec) (TrainResult, error) {
			assert.NotEmpty(t, spec.DatasetYAML)
			return TrainResult{
				ModelPath: "runs/train/round_1/best.pt",
				Metrics:   entity2.EvaluationMetrics{TrainLoss: 0.38},
			}, nil
		},
	}
	source := &fakeAcquisitionSource{
		fetchFn: func(call int, queries []string, limitPerQuery int) ([]string, error) {
			assert.GreaterOrEqual(t, limitPerQuery, 1)
			return acquired, nil
		},
	}
	strategist := &fakeStrategist{strategy: SearchStrategy{Queries: []string{"plane 遥感影像", "ship 遥感影像"}}}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, source, strategist, publisher)

	final := controller.Run(context.Background(), NewInitialState(7, "job-full", uploaded, 5))

	assert.True(t, final.Done)
	assert.False(t, final.Failed)
	assert.Equal(t, 2, final.TotalRounds)
	assert.Equal(t, 1, executor.trainCalls)
	assert.Equal(t, "runs/train/round_1/best.pt", final.BestModelPath)
	assert.NotNil(t, final.BestMetrics)
	assert.InDelta(t, 0.50, final.BestMetrics.MAP50, 1e-9)
	assert.Zero(t, final.RoundsWithoutImprovement)

	// holdout 只创建一次，哈希与内容一致
	assert.NotEmpty(t, final.HoldoutSet)
	assert.Equal(t, NewEvaluationService().ComputeSetHash(final.HoldoutSet), final.HoldoutHash)

	assert.Contains(t, publisher.statuses, entity2.JobStatusInference)
	assert.Contains(t, publisher.statuses, entity2.JobStatusAnalysis)
	assert.Contains(t, publisher.statuses, entity2.JobStatusAcquisition)
	assert.Contains(t, publisher.statuses, entity2.JobStatusPseudoLabeling)
	assert.Contains(t, publisher.statuses, entity2.JobStatusTraining)
	assert.Equal(t, entity2.JobStatusComplete, publisher.lastStatus())
}

func TestLoopHonorsMaxRounds(t *testing.T) {
	uploaded := createLoopImages(t, 8, "upload")
	acquired1 := createLoopImages(t, 12, "r1")
	acquired2 := createLoopImages(t, 12, "r2")

	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			switch call {
			case 0, 3:
				return DetectResult{Predictions: singleBoxPredictions(sources, 0.45)}, nil
			case 1:
				return DetectResult{Predictions: pseudoLabelPredictions(sources, 0, 0.1)}, nil
			case 2:
				return DetectResult{Metrics: holdoutMetrics(0.50, 0.52, 0.50, 0.40)}, nil
			case 4:
				// 类别与空间分布都换掉，保证通过多样性门禁
				return DetectResult{Predictions: pseudoLabelPredictions(sources, 1, 0.8)}, nil
			default:
				return DetectResult{Metrics: holdoutMetrics(0.55, 0.56, 0.54, 0.38)}, nil
			}
		},
		trainFn: func(call int, spec TrainSpec) (TrainResult, error) {
			return TrainResult{
				ModelPath: fmt.Sprintf("runs/train/round_%d/best.pt", call+1),
				Metrics:   entity2.EvaluationMetrics{TrainLoss: 0.38},
			}, nil
		},
	}
	source := &fakeAcquisitionSource{
		fetchFn: func(call int, queries []string, limitPerQuery int) ([]string, error) {
			if call == 0 {
				return acquired1, nil
			}
			return acquired2, nil
		},
	}
	strategist := &fakeStrategist{strategy: SearchStrategy{Queries: []string{"plane"}}}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, source, strategist, publisher)

	final := controller.Run(context.Background(), NewInitialState(7, "job-max", uploaded, 2))

	assert.True(t, final.Done)
	assert.False(t, final.Failed)
	assert.Equal(t, 2, final.TotalRounds)
	assert.Equal(t, "Reached maximum rounds (2)", final.FinalReason)
	assert.Equal(t, 2, executor.trainCalls)
	assert.InDelta(t, 0.55, final.BestMetrics.MAP50, 1e-9)
	assert.Zero(t, final.RoundsWithoutImprovement)
}

func TestEvaluateTriggersRollbackOnCriticalDegradation(t *testing.T) {
	evalService := NewEvaluationService()
	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			return DetectResult{Metrics: holdoutMetrics(0.40, 0.42, 0.42, 0.42)}, nil
		},
	}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, &fakeAcquisitionSource{}, &fakeStrategist{}, publisher)

	state := NewInitialState(7, "job-rollback", []string{"/data/u1.jpg"}, 5)
	state.State = entity2.StateEvaluate
	state.RoundNumber = 2
	state.ModelPath = "runs/train/round_2/best.pt"
	state.BestMetrics = holdoutMetrics(0.46, 0.50, 0.50, 0.40)
	state.BestMetrics.TrainLoss = 0.38
	state.Evaluation = &entity2.EvaluationMetrics{TrainLoss: 0.39}
	state.HoldoutSet = []string{"/data/h1.jpg", "/data/h2.jpg"}
	state.HoldoutHash = evalService.ComputeSetHash(state.HoldoutSet)

	final := controller.Run(context.Background(), state)

	assert.True(t, final.Done)
	assert.NotNil(t, final.Decision)
	assert.Equal(t, entity2.ActionRollback, final.Decision.Action)
	assert.Contains(t, final.FinalReason, "Critical degradation")
	assert.NotNil(t, final.Rollback)
	// 存储不可用时回滚执行失败必须显式上报，而不是静默当作成功
	assert.False(t, final.Rollback.Success)
	assert.NotEmpty(t, final.Errors)
}

func TestEvaluateFatalOnHoldoutHashMismatch(t *testing.T) {
	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			return DetectResult{Metrics: holdoutMetrics(0.50, 0.52, 0.50, 0.40)}, nil
		},
	}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, &fakeAcquisitionSource{}, &fakeStrategist{}, publisher)

	state := NewInitialState(7, "job-mismatch", []string{"/data/u1.jpg"}, 5)
	state.State = entity2.StateEvaluate
	state.RoundNumber = 2
	state.Evaluation = &entity2.EvaluationMetrics{TrainLoss: 0.38}
	state.HoldoutSet = []string{"/data/h1.jpg", "/data/h2.jpg"}
	state.HoldoutHash = "deadbeef"

	final := controller.Run(context.Background(), state)

	assert.True(t, final.Done)
	assert.True(t, final.Failed)
	assert.Equal(t, "Holdout set hash mismatch", final.FinalReason)
	assert.Equal(t, entity2.JobStatusFailed, publisher.lastStatus())
	assert.Equal(t, 0, executor.detectCalls)
}

func TestEvaluateBoundsHoldoutInferenceByTimeout(t *testing.T) {
	evalService := NewEvaluationService()
	executor := &fakeLoopExecutor{
		detectFn: func(call int, modelPath string, sources []string) (DetectResult, error) {
			return DetectResult{Metrics: holdoutMetrics(0.50, 0.52, 0.50, 0.40)}, nil
		},
	}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, &fakeAcquisitionSource{}, &fakeStrategist{}, publisher)

	state := NewInitialState(7, "job-deadline", []string{"/data/u1.jpg"}, 5)
	state.State = entity2.StateEvaluate
	state.RoundNumber = 1
	state.ModelPath = "runs/train/round_1/best.pt"
	state.Evaluation = &entity2.EvaluationMetrics{TrainLoss: 0.38}
	state.HoldoutSet = []string{"/data/h1.jpg", "/data/h2.jpg"}
	state.HoldoutHash = evalService.ComputeSetHash(state.HoldoutSet)

	next := controller.Step(context.Background(), state)

	assert.Equal(t, 1, executor.detectCalls)
	// holdout 推理和其它外部调用一样受阶段超时约束
	assert.Equal(t, []bool{true}, executor.detectDeadlines)
	assert.NotNil(t, next.Evaluation)
	assert.InDelta(t, 0.50, next.Evaluation.MAP50, 1e-9)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	executor := &fakeLoopExecutor{}
	publisher := &fakeStatusRecorder{}
	controller := newLoopController(t, executor, &fakeAcquisitionSource{}, &fakeStrategist{}, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan entity2.RoundState, 1)
	go func() {
		done <- controller.Run(ctx, NewInitialState(7, "job-cancel", []string{"/data/u1.jpg"}, 5))
	}()

	select {
	case final := <-done:
		assert.True(t, final.Done)
		assert.True(t, final.Failed)
		assert.Equal(t, "Job cancelled", final.FinalReason)
		assert.Equal(t, entity2.JobStatusFailed, publisher.lastStatus())
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish after cancellation")
	}
}
