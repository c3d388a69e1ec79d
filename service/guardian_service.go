package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"evolabeler/dao"
	entity2 "evolabeler/entity"
)

// 守护者健康检查阈值
const (
	ValLossIncreaseWarning  = 0.10
	ValLossIncreaseCritical = 0.25

	CalibrationECEWarning  = 0.10
	CalibrationECECritical = 0.20

	ForgettingMaxAffectedClasses = 2
)

// modelVersionStore 是回滚执行依赖的版本存储能力子集。
type modelVersionStore interface {
	FindBestByProjectID(ctx context.Context, projectID uint) (*entity2.ModelVersion, error)
	SetActive(ctx context.Context, projectID, versionID uint) error
	Deactivate(ctx context.Context, versionID uint) error
}

// GuardianService 汇总多维健康检查，产出回滚决策并执行模型版本回滚。
// 防止迭代训练"越训越差"。
type GuardianService struct {
	versionDAO modelVersionStore
}

func NewGuardianService() *GuardianService {
	return &GuardianService{
		versionDAO: dao.NewModelVersionDAO(),
	}
}

// NewGuardianServiceWithDAO 便于注入存储层。
func NewGuardianServiceWithDAO(versionDAO modelVersionStore) *GuardianService {
	return &GuardianService{
		versionDAO: versionDAO,
	}
}

// CheckModelHealth 执行全部健康检查并汇总成报告。
// 首轮没有基线，回滚永远不会在第一轮触发。
func (s *GuardianService) CheckModelHealth(
	current entity2.EvaluationMetrics,
	best *entity2.EvaluationMetrics,
	roundNumber int,
	roundsWithoutImprovement int,
) entity2.HealthReport {
	logger := serviceLogger().With("func", "CheckModelHealth")

	checks := []entity2.HealthCheck{
		s.checkMAPDegradation(current, best),
		s.checkValLoss(current, best),
		s.checkOverfitting(current),
		s.checkCalibration(current),
		s.checkForgetting(current, best),
	}

	hasCritical := false
	hasWarning := false
	allPassed := true
	for _, check := range checks {
		switch check.Severity {
		case entity2.SeverityCritical:
			hasCritical = true
		case entity2.SeverityWarning:
			hasWarning = true
		}
		if !check.Passed {
			allPassed = false
		}
	}

	isImproved := true
	if best != nil && best.MAP50 > 0 {
		isImproved = current.MAP50-best.MAP50 >= MAP50ImprovementThreshold
	}

	isOverfitting := false
	hasForgetting := false
	for _, check := range checks {
		if check.Name == "overfitting" && !check.Passed {
			isOverfitting = true
		}
		if check.Name == "catastrophic_forgetting" && !check.Passed {
			hasForgetting = true
		}
	}

	shouldRollback := hasCritical && roundNumber > 1
	canImprove := !isOverfitting && !hasCritical && roundsWithoutImprovement < 3

	severity := entity2.SeverityHealthy
	if hasCritical {
		severity = entity2.SeverityCritical
	} else if hasWarning {
		severity = entity2.SeverityWarning
	}

	report := entity2.HealthReport{
		IsHealthy:         allPassed,
		ShouldRollback:    shouldRollback,
		IsImproved:        isImproved,
		IsOverfitting:     isOverfitting,
		HasForgetting:     hasForgetting,
		CanImproveFurther: canImprove,
		OverallSeverity:   severity,
		Checks:            checks,
		Recommendation:    buildRecommendation(checks, isImproved, isOverfitting, shouldRollback),
	}

	logger.Info("model health check finished",
		"severity", severity,
		"improved", isImproved,
		"rollback", shouldRollback,
		"round", roundNumber,
	)
	return report
}

func (s *GuardianService) checkMAPDegradation(current entity2.EvaluationMetrics, best *entity2.EvaluationMetrics) entity2.HealthCheck {
	if best == nil || best.MAP50 == 0 {
		return entity2.HealthCheck{
			Name:     "map_degradation",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  "First evaluation, no baseline for comparison",
		}
	}

	delta := current.MAP50 - best.MAP50
	details := map[string]float64{
		"delta":   delta,
		"current": current.MAP50,
		"best":    best.MAP50,
	}

	switch {
	case delta <= MAP50DegradationCritical:
		return entity2.HealthCheck{
			Name:     "map_degradation",
			Passed:   false,
			Severity: entity2.SeverityCritical,
			Message:  fmt.Sprintf("mAP50 dropped by %.4f (critical threshold: %.2f)", -delta, -MAP50DegradationCritical),
			Details:  details,
		}
	case delta <= MAP50DegradationWarning:
		return entity2.HealthCheck{
			Name:     "map_degradation",
			Passed:   false,
			Severity: entity2.SeverityWarning,
			Message:  fmt.Sprintf("mAP50 dropped by %.4f (warning threshold: %.2f)", -delta, -MAP50DegradationWarning),
			Details:  details,
		}
	default:
		return entity2.HealthCheck{
			Name:     "map_degradation",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  fmt.Sprintf("mAP50 delta: %+.4f", delta),
			Details:  map[string]float64{"delta": delta},
		}
	}
}

func (s *GuardianService) checkValLoss(current entity2.EvaluationMetrics, best *entity2.EvaluationMetrics) entity2.HealthCheck {
	if best == nil || best.ValLoss <= 0 || current.ValLoss <= 0 {
		return entity2.HealthCheck{
			Name:     "val_loss",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  "Insufficient val_loss data for comparison",
		}
	}

	increasePct := (current.ValLoss - best.ValLoss) / best.ValLoss
	details := map[string]float64{
		"increase_pct": increasePct,
		"current":      current.ValLoss,
		"best":         best.ValLoss,
	}

	switch {
	case increasePct >= ValLossIncreaseCritical:
		return entity2.HealthCheck{
			Name:     "val_loss",
			Passed:   false,
			Severity: entity2.SeverityCritical,
			Message:  fmt.Sprintf("Val loss increased by %.1f%%", increasePct*100),
			Details:  details,
		}
	case increasePct >= ValLossIncreaseWarning:
		return entity2.HealthCheck{
			Name:     "val_loss",
			Passed:   false,
			Severity: entity2.SeverityWarning,
			Message:  fmt.Sprintf("Val loss increased by %.1f%%", increasePct*100),
			Details:  details,
		}
	default:
		return entity2.HealthCheck{
			Name:     "val_loss",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  fmt.Sprintf("Val loss change: %+.1f%%", increasePct*100),
		}
	}
}

func (s *GuardianService) checkOverfitting(metrics entity2.EvaluationMetrics) entity2.HealthCheck {
	if metrics.TrainLoss <= 0 || metrics.ValLoss <= 0 {
		return entity2.HealthCheck{
			Name:     "overfitting",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  "Insufficient loss data for overfitting detection",
		}
	}

	gapRatio := (metrics.ValLoss - metrics.TrainLoss) / metrics.TrainLoss
	details := map[string]float64{
		"gap_ratio":  gapRatio,
		"train_loss": metrics.TrainLoss,
		"val_loss":   metrics.ValLoss,
	}

	switch {
	case gapRatio >= OverfittingGapCritical:
		return entity2.HealthCheck{
			Name:     "overfitting",
			Passed:   false,
			Severity: entity2.SeverityCritical,
			Message:  fmt.Sprintf("Severe overfitting: gap ratio %.2f%%", gapRatio*100),
			Details:  details,
		}
	case gapRatio >= OverfittingGapWarning:
		return entity2.HealthCheck{
			Name:     "overfitting",
			Passed:   false,
			Severity: entity2.SeverityWarning,
			Message:  fmt.Sprintf("Moderate overfitting: gap ratio %.2f%%", gapRatio*100),
			Details:  details,
		}
	default:
		return entity2.HealthCheck{
			Name:     "overfitting",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  fmt.Sprintf("No overfitting detected (gap ratio: %.2f%%)", gapRatio*100),
		}
	}
}

func (s *GuardianService) checkCalibration(metrics entity2.EvaluationMetrics) entity2.HealthCheck {
	if metrics.Precision <= 0 || metrics.MAP50 <= 0 {
		return entity2.HealthCheck{
			Name:     "calibration",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  "Insufficient data for calibration assessment",
		}
	}

	ece := metrics.Precision - metrics.MAP50
	if ece < 0 {
		ece = -ece
	}
	ece *= 0.5

	switch {
	case ece >= CalibrationECECritical:
		return entity2.HealthCheck{
			Name:     "calibration",
			Passed:   false,
			Severity: entity2.SeverityCritical,
			Message:  fmt.Sprintf("Poor calibration: ECE estimate %.4f", ece),
			Details:  map[string]float64{"ece": ece, "precision": metrics.Precision, "mAP50": metrics.MAP50},
		}
	case ece >= CalibrationECEWarning:
		return entity2.HealthCheck{
			Name:     "calibration",
			Passed:   false,
			Severity: entity2.SeverityWarning,
			Message:  fmt.Sprintf("Moderate calibration: ECE estimate %.4f", ece),
			Details:  map[string]float64{"ece": ece},
		}
	default:
		return entity2.HealthCheck{
			Name:     "calibration",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  fmt.Sprintf("Good calibration (ECE: %.4f)", ece),
		}
	}
}

func (s *GuardianService) checkForgetting(current entity2.EvaluationMetrics, best *entity2.EvaluationMetrics) entity2.HealthCheck {
	if best == nil || len(current.PerClass) == 0 || len(best.PerClass) == 0 {
		return entity2.HealthCheck{
			Name:     "catastrophic_forgetting",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  "No per-class data for forgetting detection",
		}
	}

	affected := 0
	details := make(map[string]float64)
	for className, bestClass := range best.PerClass {
		if bestClass.AP <= 0 {
			continue
		}
		change := (current.PerClass[className].AP - bestClass.AP) / bestClass.AP
		if change < ForgettingThreshold {
			affected++
			details[className] = change
		}
	}

	switch {
	case affected > ForgettingMaxAffectedClasses:
		return entity2.HealthCheck{
			Name:     "catastrophic_forgetting",
			Passed:   false,
			Severity: entity2.SeverityCritical,
			Message:  fmt.Sprintf("Catastrophic forgetting in %d classes", affected),
			Details:  details,
		}
	case affected > 0:
		return entity2.HealthCheck{
			Name:     "catastrophic_forgetting",
			Passed:   false,
			Severity: entity2.SeverityWarning,
			Message:  fmt.Sprintf("Minor forgetting in %d class(es)", affected),
			Details:  details,
		}
	default:
		return entity2.HealthCheck{
			Name:     "catastrophic_forgetting",
			Passed:   true,
			Severity: entity2.SeverityHealthy,
			Message:  "No catastrophic forgetting detected",
		}
	}
}

func buildRecommendation(checks []entity2.HealthCheck, isImproved, isOverfitting, shouldRollback bool) string {
	if shouldRollback {
		var criticalNames []string
		for _, check := range checks {
			if check.Severity == entity2.SeverityCritical {
				criticalNames = append(criticalNames, check.Name)
			}
		}
		return fmt.Sprintf("ROLLBACK RECOMMENDED: Critical issues detected (%s). Reverting to best model.",
			strings.Join(criticalNames, ", "))
	}

	if isOverfitting {
		return "STOP RECOMMENDED: Overfitting detected. Model is memorizing training data. Consider adding more diverse data or reducing epochs."
	}

	if isImproved {
		return "CONTINUE: Model improved. Continue iterating for further gains."
	}

	warningCount := 0
	for _, check := range checks {
		if check.Severity == entity2.SeverityWarning {
			warningCount++
		}
	}
	if warningCount > 0 {
		return fmt.Sprintf("CAUTION: %d warning(s) detected. Consider adjusting training strategy.", warningCount)
	}
	return "STABLE: No significant changes. Model may have converged."
}

// RollbackToBest 执行回滚：停用当前版本并激活历史最佳版本。
// 找不到最佳版本属于执行失败，与"已决定回滚"区分上报。
func (s *GuardianService) RollbackToBest(ctx context.Context, projectID uint, currentVersionID uint) entity2.RollbackResult {
	logger := serviceLogger().With("func", "RollbackToBest", "project_id", projectID)

	bestVersion, err := s.versionDAO.FindBestByProjectID(ctx, projectID)
	if err != nil {
		if errors.Is(err, dao.ErrNoBestVersion) {
			logger.Warn("no best model version found, rollback aborted")
			return entity2.RollbackResult{
				Success: false,
				Reason:  "No best model version found",
			}
		}
		logger.Error("query best model version failed", "error", err)
		return entity2.RollbackResult{
			Success: false,
			Reason:  fmt.Sprintf("query best model version failed: %v", err),
		}
	}

	deactivated := false
	if currentVersionID != 0 && currentVersionID != bestVersion.ID {
		if err := s.versionDAO.Deactivate(ctx, currentVersionID); err != nil {
			logger.Error("deactivate current model version failed", "error", err, "version_id", currentVersionID)
			return entity2.RollbackResult{
				Success: false,
				Reason:  fmt.Sprintf("deactivate current version failed: %v", err),
			}
		}
		deactivated = true
	}

	if err := s.versionDAO.SetActive(ctx, projectID, bestVersion.ID); err != nil {
		logger.Error("activate best model version failed", "error", err, "version_id", bestVersion.ID)
		// 停用成功后激活失败，项目此刻没有激活版本，必须显式上报
		reason := fmt.Sprintf("activate best version failed: %v", err)
		if deactivated {
			reason = fmt.Sprintf("%s: %v", dao.ErrNoActiveModel, err)
		}
		return entity2.RollbackResult{
			Success: false,
			Reason:  reason,
		}
	}

	metrics := bestVersion.EvaluationMetrics()

	logger.Info("rolled back to best model version",
		"version_id", bestVersion.ID,
		"round_number", bestVersion.RoundNumber,
	)
	return entity2.RollbackResult{
		Success:            true,
		RolledBackTo:       bestVersion.ID,
		RolledBackMetrics:  &metrics,
		DeactivatedVersion: currentVersionID,
	}
}
