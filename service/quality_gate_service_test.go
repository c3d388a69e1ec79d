package service

import (
	"fmt"
	"testing"

	entity2 "evolabeler/entity"

	"github.com/stretchr/testify/assert"
)

func makeGateLabels(count int, classID int, quality float64) []entity2.PseudoLabel {
	labels := make([]entity2.PseudoLabel, 0, count)
	for i := 0; i < count; i++ {
		labels = append(labels, entity2.PseudoLabel{
			ImagePath:    fmt.Sprintf("img_%d.jpg", i),
			QualityScore: quality,
			Detections: []entity2.Detection{
				{ClassID: classID, X: float64(i%10) / 10, Y: float64(i%7) / 10, Width: 0.2, Height: 0.2, Confidence: 0.8},
			},
		})
	}
	return labels
}

func TestQualityGateServiceAllPass(t *testing.T) {
	svc := NewQualityGateService()

	result := svc.Check(makeGateLabels(12, 0, 0.7), nil)
	assert.True(t, result.Passed)
	assert.Len(t, result.Checks, 5)
	assert.Empty(t, result.Failures)
	assert.Contains(t, result.Summary, "All 5 quality checks passed")
	for _, check := range result.Checks {
		assert.True(t, check.Passed, check.Name)
	}
}

func TestQualityGateServiceSampleCountFails(t *testing.T) {
	svc := NewQualityGateService()

	result := svc.Check(makeGateLabels(8, 0, 0.7), nil)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Failures, "sample_count")
	assert.Equal(t, 8.0, result.Checks[0].Value)
	assert.Equal(t, 10.0, result.Checks[0].Threshold)
	assert.Contains(t, result.Summary, "Quality gate FAILED")
}

func TestQualityGateServiceLowQualityFails(t *testing.T) {
	svc := NewQualityGateService()

	result := svc.Check(makeGateLabels(12, 0, 0.3), nil)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Failures, "quality_score")
}

func TestQualityGateServiceClassImbalanceFails(t *testing.T) {
	svc := NewQualityGateService()

	labels := makeGateLabels(22, 0, 0.7)
	// 类别 1 只有 2 个检测，失衡比 22/2 = 11 > 10
	labels = append(labels, makeGateLabels(2, 1, 0.7)...)

	result := svc.Check(labels, nil)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Failures, "class_balance")
}

func TestQualityGateServiceDuplicatesFail(t *testing.T) {
	svc := NewQualityGateService()

	// 全部样本共享同一个检测特征签名
	var labels []entity2.PseudoLabel
	for i := 0; i < 12; i++ {
		labels = append(labels, entity2.PseudoLabel{
			ImagePath:    fmt.Sprintf("dup_%d.jpg", i),
			QualityScore: 0.8,
			Detections: []entity2.Detection{
				{ClassID: 0, X: 0.5, Y: 0.5, Width: 0.2, Height: 0.2, Confidence: 0.9},
			},
		})
	}

	result := svc.Check(labels, nil)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Failures, "duplicates")
}

func TestQualityGateServiceDiversityAgainstExisting(t *testing.T) {
	svc := NewQualityGateService()

	labels := makeGateLabels(12, 0, 0.7)
	// 现有集合与新数据完全一致时，多样性差异为 0
	result := svc.Check(labels, labels)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Failures, "diversity")

	// 没有现有集合时多样性检查默认通过
	result = svc.Check(labels, nil)
	assert.True(t, result.Passed)
}

func TestQualityGateServiceQualityFallbackToConfidence(t *testing.T) {
	svc := NewQualityGateService()

	labels := makeGateLabels(12, 0, 0)
	for i := range labels {
		labels[i].QualityScore = 0
	}

	result := svc.Check(labels, nil)
	// 质量分缺失时回退到平均置信度 0.8
	assert.True(t, result.Passed)
	assert.InDelta(t, 0.8, result.Checks[1].Value, 1e-9)
}
