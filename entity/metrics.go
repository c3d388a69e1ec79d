package entity

// 主动学习获取优先级
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// UncertaintyMetrics 是一轮推理结果的不确定性统计，计算后不再修改。
type UncertaintyMetrics struct {
	MeanConfidence      float64 `json:"mean_confidence"`
	StdConfidence       float64 `json:"std_confidence"`
	EntropyScore        float64 `json:"entropy_score"`
	UncertaintyScore    float64 `json:"uncertainty_score"`
	LowConfidenceRatio  float64 `json:"low_confidence_ratio"`
	BoundarySampleRatio float64 `json:"boundary_sample_ratio"`
	TotalDetections     int     `json:"total_detections"`
	Priority            string  `json:"priority"`
	RequiresMoreData    bool    `json:"requires_more_data"`
}

// AcquisitionRequest 是分析阶段产出的下一轮取数建议。
type AcquisitionRequest struct {
	ShouldAcquire   bool     `json:"should_acquire"`
	SuggestedCount  int      `json:"suggested_count"`
	Reason          string   `json:"reason"`
	MinorityClasses []int    `json:"minority_classes,omitempty"`
	FocusImages     []string `json:"focus_images,omitempty"`
}

// AnalysisResult 汇总不确定性分析的全部输出。
type AnalysisResult struct {
	Metrics         UncertaintyMetrics `json:"metrics"`
	HighValueImages []string           `json:"high_value_images,omitempty"`
	ClassHistogram  map[int]int        `json:"class_histogram,omitempty"`
	Acquisition     AcquisitionRequest `json:"acquisition"`
}

// ClassMetrics 是单个类别的评估指标。
type ClassMetrics struct {
	AP float64 `json:"ap"`
}

// EvaluationMetrics 是一轮 holdout 评估的指标记录。
type EvaluationMetrics struct {
	MAP50     float64                 `json:"mAP50"`
	MAP5095   float64                 `json:"mAP50_95"`
	Precision float64                 `json:"precision"`
	Recall    float64                 `json:"recall"`
	ValLoss   float64                 `json:"val_loss"`
	TrainLoss float64                 `json:"train_loss"`
	PerClass  map[string]ClassMetrics `json:"per_class,omitempty"`
}

// ModelComparison 对比当前指标与历史最佳。
type ModelComparison struct {
	IsFirstRound       bool    `json:"is_first_round"`
	IsImproved         bool    `json:"is_improved"`
	Severity           string  `json:"severity,omitempty"`
	MAP50Delta         float64 `json:"mAP50_delta"`
	MAP5095Delta       float64 `json:"mAP50_95_delta"`
	ValLossDelta       float64 `json:"val_loss_delta"`
	ValLossIncreasePct float64 `json:"val_loss_increase_pct"`
	PrecisionDelta     float64 `json:"precision_delta"`
	RecallDelta        float64 `json:"recall_delta"`
	Summary            string  `json:"summary"`
}

// CalibrationMetrics 是简化的置信度校准估计（见 EvaluationService）。
type CalibrationMetrics struct {
	ECE              float64 `json:"ece"`
	MCE              float64 `json:"mce"`
	IsWellCalibrated bool    `json:"is_well_calibrated"`
	Quality          string  `json:"calibration_quality"`
}

// OverfittingReport 记录 train/val loss 发散检测结果。
type OverfittingReport struct {
	Detected  bool    `json:"detected"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
	Gap       float64 `json:"gap"`
	GapRatio  float64 `json:"gap_ratio"`
	Reason    string  `json:"reason"`
}

// AffectedClass 是灾难性遗忘检测中按类别退化的记录。
type AffectedClass struct {
	ClassName   string  `json:"class_name"`
	BestAP      float64 `json:"best_ap"`
	CurrentAP   float64 `json:"current_ap"`
	APChangePct float64 `json:"ap_change_pct"`
}

// ForgettingReport 记录灾难性遗忘检测结果。
type ForgettingReport struct {
	Detected        bool            `json:"detected"`
	AffectedClasses []AffectedClass `json:"affected_classes,omitempty"`
	NumAffected     int             `json:"num_affected"`
	Reason          string          `json:"reason"`
}

// QualityMetrics 是伪标签过滤后的整体质量统计。
type QualityMetrics struct {
	AverageQualityScore float64 `json:"average_quality_score"`
	MinQualityScore     float64 `json:"min_quality_score"`
	MaxQualityScore     float64 `json:"max_quality_score"`
	StdQualityScore     float64 `json:"std_quality_score"`
	RetentionRate       float64 `json:"retention_rate"`
	FilteredCount       int     `json:"filtered_count"`
	TotalCount          int     `json:"total_count"`
}
