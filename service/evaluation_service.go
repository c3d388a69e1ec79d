package service

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	entity2 "evolabeler/entity"
)

// 防退化阈值
const (
	MAP50ImprovementThreshold = 0.005
	MAP50DegradationWarning   = -0.02
	MAP50DegradationCritical  = -0.05

	OverfittingGapWarning  = 0.15
	OverfittingGapCritical = 0.25

	CalibrationECEThreshold = 0.15

	ForgettingThreshold = -0.10

	MaxRoundsWithoutImprovement = 2

	DefaultHoldoutRatio = 0.15
)

// ErrHoldoutHashMismatch 表示验证集组成被改动，属于配置或存储层缺陷，
// 禁止静默重建验证集。
var ErrHoldoutHashMismatch = errors.New("holdout 验证集哈希不一致")

// EvaluationService 负责验证集管理、指标对比、校准估计、
// 过拟合与灾难性遗忘检测，以及最终的迭代决策。
type EvaluationService struct {
	HoldoutRatio float64
}

func NewEvaluationService() *EvaluationService {
	return &EvaluationService{
		HoldoutRatio: DefaultHoldoutRatio,
	}
}

// CreateHoldoutSet 在首轮创建固定验证集。
// 随机种子来自排序后前 10 条路径的 md5，同样的输入永远产生同样的子集。
func (s *EvaluationService) CreateHoldoutSet(allImages []string) []string {
	if len(allImages) == 0 {
		return nil
	}

	sorted := make([]string, len(allImages))
	copy(sorted, allImages)
	sort.Strings(sorted)

	seedPaths := sorted
	if len(seedPaths) > 10 {
		seedPaths = seedPaths[:10]
	}
	digest := md5.Sum([]byte(strings.Join(seedPaths, "|")))
	seed, err := strconv.ParseInt(hex.EncodeToString(digest[:])[:8], 16, 64)
	if err != nil {
		// md5 前 8 个十六进制字符必然可解析
		seed = 0
	}
	rng := rand.New(rand.NewSource(seed))

	count := int(float64(len(sorted)) * s.HoldoutRatio)
	if count < 1 {
		count = 1
	}
	if count > len(sorted) {
		count = len(sorted)
	}

	holdout := make([]string, 0, count)
	for _, idx := range rng.Perm(len(sorted))[:count] {
		holdout = append(holdout, sorted[idx])
	}
	return holdout
}

// ComputeSetHash 对排序后的验证集路径计算 sha256，用于跨轮一致性校验。
func (s *EvaluationService) ComputeSetHash(imagePaths []string) string {
	sorted := make([]string, len(imagePaths))
	copy(sorted, imagePaths)
	sort.Strings(sorted)

	digest := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(digest[:])
}

// VerifyHoldoutSet 校验验证集与已记录的哈希一致。
// 不一致是致命错误，调用方必须终止任务而不是重建验证集。
func (s *EvaluationService) VerifyHoldoutSet(imagePaths []string, expectedHash string) error {
	if expectedHash == "" {
		return nil
	}
	actual := s.ComputeSetHash(imagePaths)
	if actual != expectedHash {
		return fmt.Errorf("%w: expected %s, got %s", ErrHoldoutHashMismatch, expectedHash, actual)
	}
	return nil
}

// EmptyMetrics 返回全零指标，用于评估阶段无可用输入时的安全默认值。
func (s *EvaluationService) EmptyMetrics() entity2.EvaluationMetrics {
	return entity2.EvaluationMetrics{
		PerClass: map[string]entity2.ClassMetrics{},
	}
}

// CompareWithBest 以 mAP50 为主指标对比历史最佳。
// 首轮没有基线，直接视为改进并建立基线。
func (s *EvaluationService) CompareWithBest(current entity2.EvaluationMetrics, best *entity2.EvaluationMetrics) entity2.ModelComparison {
	if best == nil || best.MAP50 == 0 {
		return entity2.ModelComparison{
			IsFirstRound: true,
			IsImproved:   true,
			Summary:      "First evaluation round, establishing baseline",
		}
	}

	map50Delta := current.MAP50 - best.MAP50
	valLossDelta := current.ValLoss - best.ValLoss
	isImproved := map50Delta >= MAP50ImprovementThreshold

	severity := "normal"
	switch {
	case map50Delta <= MAP50DegradationCritical:
		severity = "critical"
	case map50Delta <= MAP50DegradationWarning:
		severity = "warning"
	case isImproved:
		severity = "improved"
	}

	valLossIncreasePct := 0.0
	if best.ValLoss > 0 {
		valLossIncreasePct = valLossDelta / best.ValLoss
	}

	return entity2.ModelComparison{
		IsFirstRound:       false,
		IsImproved:         isImproved,
		Severity:           severity,
		MAP50Delta:         map50Delta,
		MAP5095Delta:       current.MAP5095 - best.MAP5095,
		ValLossDelta:       valLossDelta,
		ValLossIncreasePct: valLossIncreasePct,
		PrecisionDelta:     current.Precision - best.Precision,
		RecallDelta:        current.Recall - best.Recall,
		Summary:            comparisonSummary(map50Delta, valLossDelta, severity),
	}
}

func comparisonSummary(map50Delta, valLossDelta float64, severity string) string {
	switch severity {
	case "critical":
		return fmt.Sprintf("CRITICAL: mAP50 dropped by %.4f. Rollback recommended.", math.Abs(map50Delta))
	case "warning":
		return fmt.Sprintf("WARNING: mAP50 dropped by %.4f. Model may be degrading.", math.Abs(map50Delta))
	case "improved":
		return fmt.Sprintf("IMPROVED: mAP50 increased by %.4f.", map50Delta)
	default:
		return fmt.Sprintf("STABLE: mAP50 delta=%.4f, val_loss delta=%.4f.", map50Delta, valLossDelta)
	}
}

// ComputeCalibration 用 precision/mAP50 的差距估计校准误差。
// 这是一个简化代理，真正的分箱 ECE 需要逐预测的置信度-准确率数据。
func (s *EvaluationService) ComputeCalibration(metrics entity2.EvaluationMetrics) entity2.CalibrationMetrics {
	var ece, mce float64
	if metrics.Precision > 0 && metrics.MAP50 > 0 {
		ece = math.Abs(metrics.Precision-metrics.MAP50) * 0.5
		mce = math.Max(math.Abs(metrics.Precision-metrics.MAP50), math.Abs(metrics.Recall-metrics.MAP50)) * 0.5
	}

	quality := "poor"
	if ece < 0.05 {
		quality = "good"
	} else if ece < CalibrationECEThreshold {
		quality = "moderate"
	}

	return entity2.CalibrationMetrics{
		ECE:              ece,
		MCE:              mce,
		IsWellCalibrated: ece < CalibrationECEThreshold,
		Quality:          quality,
	}
}

// DetectOverfitting 对比 train/val loss 的发散程度。
// 任一 loss 非正时跳过检测。
func (s *EvaluationService) DetectOverfitting(metrics entity2.EvaluationMetrics) entity2.OverfittingReport {
	if metrics.TrainLoss <= 0 || metrics.ValLoss <= 0 {
		return entity2.OverfittingReport{
			Detected: false,
			Reason:   "Insufficient loss data",
		}
	}

	gap := metrics.ValLoss - metrics.TrainLoss
	gapRatio := gap / metrics.TrainLoss
	detected := gapRatio > OverfittingGapWarning

	reason := "No overfitting detected"
	if detected {
		reason = fmt.Sprintf("Overfitting detected: val_loss/train_loss gap ratio %.2f%% > %.0f%%",
			gapRatio*100, OverfittingGapWarning*100)
	}
	return entity2.OverfittingReport{
		Detected:  detected,
		TrainLoss: metrics.TrainLoss,
		ValLoss:   metrics.ValLoss,
		Gap:       gap,
		GapRatio:  gapRatio,
		Reason:    reason,
	}
}

// DetectForgetting 对比每个类别的 AP 相对变化，检测灾难性遗忘。
func (s *EvaluationService) DetectForgetting(current, best map[string]entity2.ClassMetrics) entity2.ForgettingReport {
	if len(current) == 0 || len(best) == 0 {
		return entity2.ForgettingReport{
			Detected: false,
			Reason:   "No per-class data",
		}
	}

	classNames := make([]string, 0, len(best))
	for className := range best {
		classNames = append(classNames, className)
	}
	sort.Strings(classNames)

	var affected []entity2.AffectedClass
	for _, className := range classNames {
		bestAP := best[className].AP
		if bestAP <= 0 {
			continue
		}
		currentAP := current[className].AP
		change := (currentAP - bestAP) / bestAP
		if change < ForgettingThreshold {
			affected = append(affected, entity2.AffectedClass{
				ClassName:   className,
				BestAP:      bestAP,
				CurrentAP:   currentAP,
				APChangePct: change * 100,
			})
		}
	}

	reason := "No catastrophic forgetting detected"
	if len(affected) > 0 {
		names := make([]string, 0, len(affected))
		for _, class := range affected {
			names = append(names, class.ClassName)
		}
		reason = fmt.Sprintf("Catastrophic forgetting detected in %d classes: %s",
			len(affected), strings.Join(names, ", "))
	}
	return entity2.ForgettingReport{
		Detected:        len(affected) > 0,
		AffectedClasses: affected,
		NumAffected:     len(affected),
		Reason:          reason,
	}
}

// MakeContinuationDecision 按优先级产出本轮的唯一权威决策：
// 严重退化回滚 > 灾难性遗忘回滚 > 过拟合停止 > 收敛停止 > 谨慎继续 > 继续。
func (s *EvaluationService) MakeContinuationDecision(
	comparison entity2.ModelComparison,
	overfitting entity2.OverfittingReport,
	forgetting entity2.ForgettingReport,
	roundsWithoutImprovement int,
) entity2.ContinuationDecision {
	if comparison.Severity == "critical" {
		return entity2.ContinuationDecision{
			ShouldContinue: false,
			ShouldRollback: true,
			Action:         entity2.ActionRollback,
			Reason:         fmt.Sprintf("Critical degradation: %s", comparison.Summary),
			Confidence:     0.95,
		}
	}

	if forgetting.Detected && forgetting.NumAffected >= 2 {
		return entity2.ContinuationDecision{
			ShouldContinue: false,
			ShouldRollback: true,
			Action:         entity2.ActionRollback,
			Reason:         fmt.Sprintf("Catastrophic forgetting: %s", forgetting.Reason),
			Confidence:     0.90,
		}
	}

	if overfitting.Detected {
		return entity2.ContinuationDecision{
			ShouldContinue: false,
			ShouldRollback: false,
			Action:         entity2.ActionStop,
			Reason:         fmt.Sprintf("Overfitting detected: %s", overfitting.Reason),
			Confidence:     0.85,
		}
	}

	if roundsWithoutImprovement >= MaxRoundsWithoutImprovement {
		return entity2.ContinuationDecision{
			ShouldContinue: false,
			ShouldRollback: false,
			Action:         entity2.ActionStop,
			Reason:         fmt.Sprintf("No improvement for %d rounds. Model has converged.", roundsWithoutImprovement),
			Confidence:     0.80,
		}
	}

	if comparison.Severity == "warning" {
		return entity2.ContinuationDecision{
			ShouldContinue: true,
			ShouldRollback: false,
			Action:         entity2.ActionContinueCautious,
			Reason:         fmt.Sprintf("Minor degradation detected, continuing with caution: %s", comparison.Summary),
			Confidence:     0.60,
		}
	}

	if comparison.IsImproved && !comparison.IsFirstRound {
		return entity2.ContinuationDecision{
			ShouldContinue: true,
			ShouldRollback: false,
			Action:         entity2.ActionContinue,
			Reason:         fmt.Sprintf("Model improved: %s", comparison.Summary),
			Confidence:     0.85,
		}
	}

	if comparison.IsFirstRound {
		return entity2.ContinuationDecision{
			ShouldContinue: true,
			ShouldRollback: false,
			Action:         entity2.ActionContinue,
			Reason:         "First round baseline established, continuing iteration.",
			Confidence:     0.75,
		}
	}

	return entity2.ContinuationDecision{
		ShouldContinue: true,
		ShouldRollback: false,
		Action:         entity2.ActionContinue,
		Reason:         "Metrics stable, continuing exploration.",
		Confidence:     0.65,
	}
}
