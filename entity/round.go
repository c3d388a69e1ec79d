package entity

import (
	"encoding/json"
	"time"
)

// EvoRound 是一轮执行的持久化记录，供审计与展示，不参与控制流。
type EvoRound struct {
	ID                 uint            `gorm:"primaryKey;column:id" json:"id"`
	ProjectID          uint            `gorm:"column:project_id;index" json:"project_id"`
	JobID              string          `gorm:"column:job_id;index" json:"job_id"`
	RoundNumber        int             `gorm:"column:round_number" json:"round_number"`
	InputImageCount    int             `gorm:"column:input_image_count" json:"input_image_count"`
	AcquiredImageCount int             `gorm:"column:acquired_image_count" json:"acquired_image_count"`
	PseudoLabelCount   int             `gorm:"column:pseudo_label_count" json:"pseudo_label_count"`
	AvgQualityScore    *float64        `gorm:"column:avg_quality_score" json:"avg_quality_score"`
	GatePassed         *bool           `gorm:"column:gate_passed" json:"gate_passed"`
	GateSummary        string          `gorm:"column:gate_summary" json:"gate_summary"`
	ShouldContinue     bool            `gorm:"column:should_continue" json:"should_continue"`
	ContinueReason     string          `gorm:"column:continue_reason" json:"continue_reason"`
	MetricsBefore      json.RawMessage `gorm:"column:metrics_before;type:json" json:"metrics_before"`
	MetricsAfter       json.RawMessage `gorm:"column:metrics_after;type:json" json:"metrics_after"`
	MetricsDelta       json.RawMessage `gorm:"column:metrics_delta;type:json" json:"metrics_delta"`
	HealthSeverity     string          `gorm:"column:health_severity" json:"health_severity"`
	WasRolledBack      bool            `gorm:"column:was_rolled_back" json:"was_rolled_back"`
	Status             string          `gorm:"column:status" json:"status"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	CompletedAt        *time.Time      `gorm:"column:completed_at" json:"completed_at"`
}

func (EvoRound) TableName() string {
	return "evo_rounds"
}
