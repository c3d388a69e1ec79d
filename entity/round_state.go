package entity

// LoopState 枚举 Round Controller 的控制流状态。
type LoopState int

const (
	StateInitRound LoopState = iota
	StateAnalyze
	StateAcquire
	StateTrain
	StateEvaluate
	StateNextRound
	StateFinalize
)

func (s LoopState) String() string {
	switch s {
	case StateInitRound:
		return "INIT_ROUND"
	case StateAnalyze:
		return "ANALYZE"
	case StateAcquire:
		return "ACQUIRE"
	case StateTrain:
		return "TRAIN"
	case StateEvaluate:
		return "EVALUATE"
	case StateNextRound:
		return "NEXT_ROUND"
	case StateFinalize:
		return "FINALIZE"
	default:
		return "UNKNOWN"
	}
}

// RoundState 是状态机各步骤之间按值传递的显式轮次状态。
// 每个步骤读取自己需要的字段并返回修改后的副本，
// 跨轮字段（best 系列、holdout、RoundsWithoutImprovement）由
// NEXT_ROUND -> INIT_ROUND 保留，轮内工作字段被清空。
type RoundState struct {
	State LoopState `json:"state"`
	Done  bool      `json:"done"`

	ProjectID uint   `json:"project_id"`
	JobID     string `json:"job_id"`

	RoundNumber int `json:"round_number"`
	MaxRounds   int `json:"max_rounds"`

	// 轮内工作状态，每轮开始时清空
	UploadedImages []string              `json:"uploaded_images,omitempty"`
	AcquiredImages []string              `json:"acquired_images,omitempty"`
	CrawledCount   int                   `json:"crawled_count"`
	SearchQueries  []string              `json:"search_queries,omitempty"`
	SceneType      string                `json:"scene_type,omitempty"`
	Predictions    []ImagePrediction     `json:"-"`
	Analysis       *AnalysisResult       `json:"analysis,omitempty"`
	PseudoLabels   []PseudoLabel         `json:"pseudo_labels,omitempty"`
	Quality        *QualityMetrics       `json:"quality_metrics,omitempty"`
	Gate           *GateResult           `json:"gate_result,omitempty"`
	Evaluation     *EvaluationMetrics    `json:"evaluation_metrics,omitempty"`
	Comparison     *ModelComparison      `json:"model_comparison,omitempty"`
	Calibration    *CalibrationMetrics   `json:"calibration_metrics,omitempty"`
	Health         *HealthReport         `json:"health_report,omitempty"`
	Decision       *ContinuationDecision `json:"continuation_decision,omitempty"`
	Rollback       *RollbackResult       `json:"rollback_result,omitempty"`

	// 跨轮持久状态
	ModelPath                string             `json:"model_path,omitempty"`
	BestModelPath            string             `json:"best_model_path,omitempty"`
	BestMetrics              *EvaluationMetrics `json:"best_metrics,omitempty"`
	RoundsWithoutImprovement int                `json:"rounds_without_improvement"`
	HoldoutSet               []string           `json:"holdout_set,omitempty"`
	HoldoutHash              string             `json:"holdout_hash,omitempty"`
	TrainingSet              []PseudoLabel      `json:"-"`

	Errors      []string `json:"errors,omitempty"`
	Failed      bool     `json:"failed"`
	FinalReason string   `json:"final_reason,omitempty"`
	TotalRounds int      `json:"total_rounds"`
}

// AllImagePaths 返回当前已知的全部图像引用（上传 + 已获取）。
func (s *RoundState) AllImagePaths() []string {
	all := make([]string, 0, len(s.UploadedImages)+len(s.AcquiredImages))
	all = append(all, s.UploadedImages...)
	all = append(all, s.AcquiredImages...)
	return all
}

// ClearRoundWork 清空轮内工作字段，跨轮字段保持不变。
func (s *RoundState) ClearRoundWork() {
	s.AcquiredImages = nil
	s.CrawledCount = 0
	s.SearchQueries = nil
	s.SceneType = ""
	s.Predictions = nil
	s.Analysis = nil
	s.PseudoLabels = nil
	s.Quality = nil
	s.Gate = nil
	s.Evaluation = nil
	s.Comparison = nil
	s.Calibration = nil
	s.Health = nil
	s.Decision = nil
	s.Rollback = nil
}
