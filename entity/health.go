package entity

// 健康检查严重级别，critical > warning > healthy。
const (
	SeverityHealthy  = "healthy"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// HealthCheck 是单项模型健康检查结果，每轮评估后临时产出。
type HealthCheck struct {
	Name     string             `json:"name"`
	Passed   bool               `json:"passed"`
	Severity string             `json:"severity"`
	Message  string             `json:"message"`
	Details  map[string]float64 `json:"details,omitempty"`
}

// HealthReport 是 ModelGuardian 聚合五项检查后的总报告。
type HealthReport struct {
	IsHealthy         bool          `json:"is_healthy"`
	ShouldRollback    bool          `json:"should_rollback"`
	IsImproved        bool          `json:"is_improved"`
	IsOverfitting     bool          `json:"is_overfitting"`
	HasForgetting     bool          `json:"has_forgetting"`
	CanImproveFurther bool          `json:"can_improve_further"`
	OverallSeverity   string        `json:"overall_severity"`
	Checks            []HealthCheck `json:"checks"`
	Recommendation    string        `json:"recommendation"`
}

// 续停决策动作
const (
	ActionContinue         = "continue"
	ActionContinueCautious = "continue_cautious"
	ActionStop             = "stop"
	ActionRollback         = "rollback"
)

// ContinuationDecision 是一轮的最终权威输出。
type ContinuationDecision struct {
	ShouldContinue bool    `json:"should_continue"`
	ShouldRollback bool    `json:"should_rollback"`
	Action         string  `json:"action"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
}

// GateCheck 是数据质量门禁的单项检查结果。
type GateCheck struct {
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// GateResult 是门禁的整体裁决：所有检查通过才放行训练。
type GateResult struct {
	Passed   bool        `json:"passed"`
	Checks   []GateCheck `json:"checks"`
	Failures []string    `json:"failures"`
	Summary  string      `json:"summary"`
}

// RollbackResult 记录一次回滚执行的结果。
type RollbackResult struct {
	Success            bool               `json:"success"`
	Reason             string             `json:"reason,omitempty"`
	RolledBackTo       uint               `json:"rolled_back_to,omitempty"`
	RolledBackMetrics  *EvaluationMetrics `json:"rolled_back_metrics,omitempty"`
	DeactivatedVersion uint               `json:"deactivated_version,omitempty"`
}
