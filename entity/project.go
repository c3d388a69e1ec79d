package entity

import (
	"encoding/json"
	"time"
)

type Project struct {
	ID          uint            `gorm:"primaryKey;column:id" json:"id"`
	Name        string          `gorm:"column:name;uniqueIndex" json:"name"`
	Description *string         `gorm:"column:description" json:"description"`
	TaskType    string          `gorm:"column:task_type" json:"task_type"`
	ClassNames  json.RawMessage `gorm:"column:class_names;type:json" json:"class_names"`
	NumClasses  *uint           `gorm:"column:num_classes" json:"num_classes"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Project) TableName() string {
	return "projects"
}

// ClassNameList 反序列化 ClassNames 字段；内容为空或非法时返回 nil。
func (p *Project) ClassNameList() []string {
	if len(p.ClassNames) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(p.ClassNames, &names); err != nil {
		return nil
	}
	return names
}
