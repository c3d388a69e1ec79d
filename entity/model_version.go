package entity

import (
	"encoding/json"
	"time"
)

// ModelVersion 每轮产出一条；同一项目任意时刻恰有一条 is_best、
// 一条 is_active（回滚期间由 DAO 事务保证原子翻转）。
type ModelVersion struct {
	ID                uint            `gorm:"primaryKey;column:id" json:"id"`
	ProjectID         uint            `gorm:"column:project_id;index" json:"project_id"`
	JobID             string          `gorm:"column:job_id;index" json:"job_id"`
	RoundNumber       int             `gorm:"column:round_number" json:"round_number"`
	ModelPath         string          `gorm:"column:model_path" json:"model_path"`
	Metrics           json.RawMessage `gorm:"column:metrics;type:json" json:"metrics"`
	MAP50             float64         `gorm:"column:map50" json:"mAP50"`
	ValidationSetHash string          `gorm:"column:validation_set_hash" json:"validation_set_hash"`
	ValidationSetSize int             `gorm:"column:validation_set_size" json:"validation_set_size"`
	CalibrationECE    float64         `gorm:"column:calibration_ece" json:"calibration_ece"`
	CalibrationMCE    float64         `gorm:"column:calibration_mce" json:"calibration_mce"`
	IsBest            bool            `gorm:"column:is_best" json:"is_best"`
	IsActive          bool            `gorm:"column:is_active" json:"is_active"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (ModelVersion) TableName() string {
	return "model_versions"
}

// EvaluationMetrics 反序列化 Metrics 字段；内容为空时返回零值。
func (m *ModelVersion) EvaluationMetrics() EvaluationMetrics {
	var metrics EvaluationMetrics
	if len(m.Metrics) > 0 {
		_ = json.Unmarshal(m.Metrics, &metrics)
	}
	return metrics
}
