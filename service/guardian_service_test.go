package service

import (
	"context"
	"errors"
	"testing"

	"evolabeler/dao"
	entity2 "evolabeler/entity"

	"github.com/stretchr/testify/assert"
)

func TestGuardianServiceHealthyModel(t *testing.T) {
	svc := NewGuardianServiceWithDAO(nil)

	current := entity2.EvaluationMetrics{
		MAP50: 0.55, Precision: 0.6, Recall: 0.5,
		TrainLoss: 1.0, ValLoss: 1.05,
	}
	best := &entity2.EvaluationMetrics{MAP50: 0.52, ValLoss: 1.1}

	report := svc.CheckModelHealth(current, best, 2, 0)
	assert.True(t, report.IsHealthy)
	assert.False(t, report.ShouldRollback)
	assert.True(t, report.IsImproved)
	assert.True(t, report.CanImproveFurther)
	assert.Equal(t, entity2.SeverityHealthy, report.OverallSeverity)
	assert.Len(t, report.Checks, 5)
	assert.Contains(t, report.Recommendation, "CONTINUE")
}

func TestGuardianServiceCriticalDegradationTriggersRollback(t *testing.T) {
	svc := NewGuardianServiceWithDAO(nil)

	current := entity2.EvaluationMetrics{MAP50: 0.40}
	best := &entity2.EvaluationMetrics{MAP50: 0.46}

	report := svc.CheckModelHealth(current, best, 2, 0)
	assert.True(t, report.ShouldRollback)
	assert.False(t, report.IsImproved)
	assert.False(t, report.CanImproveFurther)
	assert.Equal(t, entity2.SeverityCritical, report.OverallSeverity)
	assert.Contains(t, report.Recommendation, "ROLLBACK RECOMMENDED")
}

func TestGuardianServiceNoRollbackOnFirstRound(t *testing.T) {
	svc := NewGuardianServiceWithDAO(nil)

	current := entity2.EvaluationMetrics{MAP50: 0.40}
	best := &entity2.EvaluationMetrics{MAP50: 0.46}

	report := svc.CheckModelHealth(current, best, 1, 0)
	assert.Equal(t, entity2.SeverityCritical, report.OverallSeverity)
	assert.False(t, report.ShouldRollback)
}

func TestGuardianServiceOverfittingSeverity(t *testing.T) {
	svc := NewGuardianServiceWithDAO(nil)

	moderate := svc.CheckModelHealth(entity2.EvaluationMetrics{
		MAP50: 0.5, TrainLoss: 1.0, ValLoss: 1.2,
	}, nil, 1, 0)
	assert.True(t, moderate.IsOverfitting)
	assert.False(t, moderate.CanImproveFurther)
	assert.Equal(t, entity2.SeverityWarning, moderate.OverallSeverity)

	severe := svc.CheckModelHealth(entity2.EvaluationMetrics{
		MAP50: 0.5, TrainLoss: 1.0, ValLoss: 1.3,
	}, nil, 1, 0)
	assert.Equal(t, entity2.SeverityCritical, severe.OverallSeverity)
}

func TestGuardianServiceCalibrationCheck(t *testing.T) {
	svc := NewGuardianServiceWithDAO(nil)

	// |0.95 - 0.5| * 0.5 = 0.225 ≥ 0.20 临界
	report := svc.CheckModelHealth(entity2.EvaluationMetrics{
		MAP50: 0.5, Precision: 0.95,
	}, nil, 1, 0)
	assert.Equal(t, entity2.SeverityCritical, report.OverallSeverity)

	var calibration entity2.HealthCheck
	for _, check := range report.Checks {
		if check.Name == "calibration" {
			calibration = check
		}
	}
	assert.False(t, calibration.Passed)
	assert.InDelta(t, 0.225, calibration.Details["ece"], 1e-9)
}

func TestGuardianServiceForgettingCheck(t *testing.T) {
	svc := NewGuardianServiceWithDAO(nil)

	best := &entity2.EvaluationMetrics{
		MAP50: 0.5,
		PerClass: map[string]entity2.ClassMetrics{
			"a": {AP: 0.8}, "b": {AP: 0.7}, "c": {AP: 0.6},
		},
	}
	current := entity2.EvaluationMetrics{
		MAP50: 0.5,
		PerClass: map[string]entity2.ClassMetrics{
			"a": {AP: 0.4}, "b": {AP: 0.3}, "c": {AP: 0.2},
		},
	}

	// 3 个类别退化超过阈值，超过 2 个即为 critical
	report := svc.CheckModelHealth(current, best, 3, 0)
	assert.True(t, report.HasForgetting)
	assert.True(t, report.ShouldRollback)
	assert.Equal(t, entity2.SeverityCritical, report.OverallSeverity)
}

func TestGuardianServiceConvergedStopsImproving(t *testing.T) {
	svc := NewGuardianServiceWithDAO(nil)

	current := entity2.EvaluationMetrics{MAP50: 0.52}
	best := &entity2.EvaluationMetrics{MAP50: 0.52}

	report := svc.CheckModelHealth(current, best, 4, 3)
	assert.False(t, report.CanImproveFurther)
	assert.False(t, report.IsImproved)
	assert.Contains(t, report.Recommendation, "STABLE")
}

type fakeVersionStore struct {
	best         *entity2.ModelVersion
	bestErr      error
	setActiveErr error
	deactivated  []uint
}

func (f *fakeVersionStore) FindBestByProjectID(ctx context.Context, projectID uint) (*entity2.ModelVersion, error) {
	if f.bestErr != nil {
		return nil, f.bestErr
	}
	return f.best, nil
}

func (f *fakeVersionStore) SetActive(ctx context.Context, projectID, versionID uint) error {
	return f.setActiveErr
}

func (f *fakeVersionStore) Deactivate(ctx context.Context, versionID uint) error {
	f.deactivated = append(f.deactivated, versionID)
	return nil
}

func TestGuardianServiceRollbackToBest(t *testing.T) {
	store := &fakeVersionStore{
		best: &entity2.ModelVersion{
			ID:          3,
			RoundNumber: 1,
			Metrics:     []byte(`{"mAP50":0.46}`),
		},
	}
	svc := NewGuardianServiceWithDAO(store)

	result := svc.RollbackToBest(context.Background(), 7, 9)

	assert.True(t, result.Success)
	assert.Equal(t, uint(3), result.RolledBackTo)
	assert.Equal(t, uint(9), result.DeactivatedVersion)
	assert.Equal(t, []uint{9}, store.deactivated)
	assert.NotNil(t, result.RolledBackMetrics)
	assert.InDelta(t, 0.46, result.RolledBackMetrics.MAP50, 1e-9)
}

func TestGuardianServiceRollbackNoBestVersion(t *testing.T) {
	store := &fakeVersionStore{bestErr: dao.ErrNoBestVersion}
	svc := NewGuardianServiceWithDAO(store)

	result := svc.RollbackToBest(context.Background(), 7, 9)

	assert.False(t, result.Success)
	assert.Equal(t, "No best model version found", result.Reason)
	assert.Empty(t, store.deactivated)
}

func TestGuardianServiceRollbackActivationFailureReportsNoActiveModel(t *testing.T) {
	store := &fakeVersionStore{
		best:         &entity2.ModelVersion{ID: 3},
		setActiveErr: errors.New("dial mysql: connection refused"),
	}
	svc := NewGuardianServiceWithDAO(store)

	result := svc.RollbackToBest(context.Background(), 7, 9)

	assert.False(t, result.Success)
	assert.Equal(t, []uint{9}, store.deactivated)
	// 停用成功但激活失败，此刻项目没有激活版本，原因里必须带上该信号
	assert.Contains(t, result.Reason, dao.ErrNoActiveModel.Error())
	assert.Contains(t, result.Reason, "connection refused")
}
