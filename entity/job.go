package entity

import "time"

// 任务状态标签，用于持久化与对外展示（不是控制流状态）。
const (
	JobStatusUpload         = "UPLOAD"
	JobStatusInference      = "INFERENCE"
	JobStatusAnalysis       = "ANALYSIS"
	JobStatusAcquisition    = "ACQUISITION"
	JobStatusPseudoLabeling = "PSEUDO_LABELING"
	JobStatusTraining       = "TRAINING"
	JobStatusComplete       = "COMPLETE"
	JobStatusFailed         = "FAILED"
)

// AllJobStatuses 返回全部合法状态标签。
func AllJobStatuses() []string {
	return []string{
		JobStatusUpload,
		JobStatusInference,
		JobStatusAnalysis,
		JobStatusAcquisition,
		JobStatusPseudoLabeling,
		JobStatusTraining,
		JobStatusComplete,
		JobStatusFailed,
	}
}

type EvoJob struct {
	ID              uint      `gorm:"primaryKey;column:id" json:"id"`
	JobID           string    `gorm:"column:job_id;uniqueIndex" json:"job_id"`
	ProjectID       uint      `gorm:"column:project_id;index" json:"project_id"`
	Status          string    `gorm:"column:status" json:"status"`
	ProgressMessage string    `gorm:"column:progress_message" json:"progress_message"`
	MaxRounds       int       `gorm:"column:max_rounds" json:"max_rounds"`
	TotalRounds     int       `gorm:"column:total_rounds" json:"total_rounds"`
	FinalReason     string    `gorm:"column:final_reason" json:"final_reason"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (EvoJob) TableName() string {
	return "evo_jobs"
}
