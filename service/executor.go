package service

import (
	"context"

	entity2 "evolabeler/entity"
)

// DetectResult 是一次推理调用的输出。
// Metrics 仅在验证模式下由执行器回填，普通推理为 nil。
type DetectResult struct {
	Predictions []entity2.ImagePrediction  `json:"predictions"`
	Metrics     *entity2.EvaluationMetrics `json:"metrics,omitempty"`
}

// TrainSpec 描述一次训练任务。
type TrainSpec struct {
	DatasetYAML string `json:"dataset_yaml"`
	Epochs      int    `json:"epochs"`
	BatchSize   int    `json:"batch_size"`
	ImgSize     int    `json:"img_size"`
	BaseWeights string `json:"base_weights"`
}

// TrainResult 是一次训练任务的产出。
type TrainResult struct {
	ModelPath string                    `json:"model_path"`
	Metrics   entity2.EvaluationMetrics `json:"metrics"`
}

// SearchStrategy 是 LLM 生成的数据搜索策略。
type SearchStrategy struct {
	Queries     []string `json:"queries"`
	SceneType   string   `json:"scene_type"`
	KeyFeatures []string `json:"key_features,omitempty"`
}

// TrainingExecutor 抽象底层检测器的训练与推理执行。
// 执行失败与"跑完但零检测"必须区分上报。
type TrainingExecutor interface {
	RunDetect(ctx context.Context, modelPath string, sources []string, confThreshold, iouThreshold float64) (DetectResult, error)
	RunTrain(ctx context.Context, spec TrainSpec) (TrainResult, error)
}

// AcquisitionSource 抽象外部图片获取渠道。
// 返回数量可以少于请求数量，空结果是合法的。
type AcquisitionSource interface {
	FetchImages(ctx context.Context, queries []string, limitPerQuery int) ([]string, error)
}

// StrategyGenerator 抽象 LLM 搜索策略生成。
type StrategyGenerator interface {
	GenerateStrategy(ctx context.Context, imagePaths []string, classNames []string) (SearchStrategy, error)
}

// StatusPublisher 把任务状态推送给观测侧。
type StatusPublisher interface {
	PublishStatus(ctx context.Context, jobID, status, message string) error
}
