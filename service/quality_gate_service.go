package service

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	entity2 "evolabeler/entity"
)

// 训练准入阈值，任一不满足即拒绝本轮训练。
const (
	MinSampleCount        = 10
	MinQualityScore       = 0.4
	MaxClassImbalanceRate = 10.0
	MinDiversityScore     = 0.3
	MaxDuplicateRatio     = 0.20
)

// QualityGateService 是训练前的数据质量门禁。
// 所有检查项必须全部通过，任一失败将跳过本轮训练并记录原因。
type QualityGateService struct{}

func NewQualityGateService() *QualityGateService {
	return &QualityGateService{}
}

// Check 对候选伪标签执行全部质量检查。
// existing 为现有训练集，仅用于多样性对比，可以为空。
func (s *QualityGateService) Check(labels []entity2.PseudoLabel, existing []entity2.PseudoLabel) entity2.GateResult {
	logger := serviceLogger().With("func", "Check")

	checks := []entity2.GateCheck{
		s.checkSampleCount(labels),
		s.checkQualityScores(labels),
		s.checkClassBalance(labels),
		s.checkDiversity(labels, existing),
		s.checkDuplicates(labels),
	}

	var failures []string
	for _, check := range checks {
		if !check.Passed {
			failures = append(failures, check.Name)
		}
	}
	passed := len(failures) == 0

	var summary string
	if passed {
		summary = fmt.Sprintf("All %d quality checks passed. Data ready for training.", len(checks))
	} else {
		summary = fmt.Sprintf("Quality gate FAILED: %d/%d checks failed (%s). Training skipped.",
			len(failures), len(checks), strings.Join(failures, ", "))
	}

	logger.Info("data quality gate finished",
		"passed", passed,
		"num_checks", len(checks),
		"num_failed", len(failures),
	)

	return entity2.GateResult{
		Passed:   passed,
		Checks:   checks,
		Failures: failures,
		Summary:  summary,
	}
}

func (s *QualityGateService) checkSampleCount(labels []entity2.PseudoLabel) entity2.GateCheck {
	count := len(labels)
	passed := count >= MinSampleCount

	message := fmt.Sprintf("Sample count: %d (minimum: %d)", count, MinSampleCount)
	if !passed {
		message = fmt.Sprintf("Insufficient samples: %d < %d. Need more data.", count, MinSampleCount)
	}
	return entity2.GateCheck{
		Name:      "sample_count",
		Passed:    passed,
		Value:     float64(count),
		Threshold: float64(MinSampleCount),
		Message:   message,
	}
}

func (s *QualityGateService) checkQualityScores(labels []entity2.PseudoLabel) entity2.GateCheck {
	var scores []float64
	for _, label := range labels {
		if label.QualityScore > 0 {
			scores = append(scores, label.QualityScore)
		}
	}

	// 没有质量分时退化为平均置信度
	if len(scores) == 0 {
		for _, label := range labels {
			if len(label.Detections) == 0 {
				continue
			}
			var sum float64
			for _, det := range label.Detections {
				sum += det.Confidence
			}
			scores = append(scores, sum/float64(len(label.Detections)))
		}
	}

	if len(scores) == 0 {
		return entity2.GateCheck{
			Name:      "quality_score",
			Passed:    true,
			Value:     0,
			Threshold: MinQualityScore,
			Message:   "No quality data available, skipping check",
		}
	}

	var sum float64
	for _, score := range scores {
		sum += score
	}
	avgQuality := sum / float64(len(scores))
	passed := avgQuality >= MinQualityScore

	message := fmt.Sprintf("Average quality: %.4f (minimum: %.1f)", avgQuality, MinQualityScore)
	if !passed {
		message = fmt.Sprintf("Low quality data: %.4f < %.1f. Pseudo-labels are unreliable.", avgQuality, MinQualityScore)
	}
	return entity2.GateCheck{
		Name:      "quality_score",
		Passed:    passed,
		Value:     avgQuality,
		Threshold: MinQualityScore,
		Message:   message,
	}
}

func (s *QualityGateService) checkClassBalance(labels []entity2.PseudoLabel) entity2.GateCheck {
	classCounts := make(map[int]int)
	for _, label := range labels {
		for _, det := range label.Detections {
			classCounts[det.ClassID]++
		}
	}

	if len(classCounts) <= 1 {
		return entity2.GateCheck{
			Name:      "class_balance",
			Passed:    true,
			Value:     1,
			Threshold: MaxClassImbalanceRate,
			Message:   "Single class or no class data, balance check N/A",
		}
	}

	mostCommon := 0
	leastCommon := math.MaxInt
	for _, count := range classCounts {
		if count > mostCommon {
			mostCommon = count
		}
		if count < leastCommon {
			leastCommon = count
		}
	}
	ratio := float64(mostCommon) / float64(leastCommon)
	passed := ratio <= MaxClassImbalanceRate

	message := fmt.Sprintf("Class imbalance ratio: %.1fx (max: %.1fx)", ratio, MaxClassImbalanceRate)
	if !passed {
		message = fmt.Sprintf("Severe class imbalance: %.1fx > %.1fx. Most common: %d, least common: %d.",
			ratio, MaxClassImbalanceRate, mostCommon, leastCommon)
	}
	return entity2.GateCheck{
		Name:      "class_balance",
		Passed:    passed,
		Value:     ratio,
		Threshold: MaxClassImbalanceRate,
		Message:   message,
	}
}

func (s *QualityGateService) checkDiversity(labels, existing []entity2.PseudoLabel) entity2.GateCheck {
	if len(existing) == 0 {
		return entity2.GateCheck{
			Name:      "diversity",
			Passed:    true,
			Value:     1,
			Threshold: MinDiversityScore,
			Message:   "No existing data for diversity comparison, check N/A",
		}
	}

	diversity := distributionDivergence(
		extractDistributionFeatures(labels),
		extractDistributionFeatures(existing),
	)
	passed := diversity >= MinDiversityScore

	message := fmt.Sprintf("Data diversity: %.4f (minimum: %.1f)", diversity, MinDiversityScore)
	if !passed {
		message = fmt.Sprintf("Low diversity: %.4f < %.1f. New data too similar to existing dataset.",
			diversity, MinDiversityScore)
	}
	return entity2.GateCheck{
		Name:      "diversity",
		Passed:    passed,
		Value:     diversity,
		Threshold: MinDiversityScore,
		Message:   message,
	}
}

func (s *QualityGateService) checkDuplicates(labels []entity2.PseudoLabel) entity2.GateCheck {
	if len(labels) < 2 {
		return entity2.GateCheck{
			Name:      "duplicates",
			Passed:    true,
			Value:     0,
			Threshold: MaxDuplicateRatio,
			Message:   "Too few samples for duplicate detection",
		}
	}

	seen := make(map[string]bool)
	duplicates := 0
	for _, label := range labels {
		hash := sampleHash(label)
		if seen[hash] {
			duplicates++
		} else {
			seen[hash] = true
		}
	}
	dupRatio := float64(duplicates) / float64(len(labels))
	passed := dupRatio <= MaxDuplicateRatio

	message := fmt.Sprintf("Near-duplicate ratio: %.1f%% (max: %.0f%%)", dupRatio*100, MaxDuplicateRatio*100)
	if !passed {
		message = fmt.Sprintf("Too many duplicates: %.1f%% > %.0f%%. %d near-duplicates found in %d samples.",
			dupRatio*100, MaxDuplicateRatio*100, duplicates, len(labels))
	}
	return entity2.GateCheck{
		Name:      "duplicates",
		Passed:    passed,
		Value:     dupRatio,
		Threshold: MaxDuplicateRatio,
		Message:   message,
	}
}

// extractDistributionFeatures 把标签集合压缩为归一化特征分布：
// 类别占比、3x3 空间分布占比、平均置信度与平均检测数。
func extractDistributionFeatures(labels []entity2.PseudoLabel) map[string]float64 {
	classCounts := make(map[int]int)
	spatialBins := make(map[string]int)
	totalDetections := 0
	var totalConfidence float64

	for _, label := range labels {
		for _, det := range label.Detections {
			classCounts[det.ClassID]++
			totalDetections++
			totalConfidence += det.Confidence

			binX := int(det.X * 3)
			binY := int(det.Y * 3)
			spatialBins[fmt.Sprintf("%d_%d", binX, binY)]++
		}
	}

	features := make(map[string]float64)
	denominator := float64(totalDetections)
	if denominator < 1 {
		denominator = 1
	}
	for classID, count := range classCounts {
		features[fmt.Sprintf("class_%d", classID)] = float64(count) / denominator
	}
	for binKey, count := range spatialBins {
		features[fmt.Sprintf("spatial_%s", binKey)] = float64(count) / denominator
	}
	features["avg_confidence"] = totalConfidence / denominator

	labelCount := float64(len(labels))
	if labelCount < 1 {
		labelCount = 1
	}
	features["avg_detections_per_image"] = float64(totalDetections) / labelCount
	return features
}

// distributionDivergence 计算两个特征分布在键并集上的平均绝对差，截断到 [0,1]。
func distributionDivergence(distA, distB map[string]float64) float64 {
	allKeys := make(map[string]bool)
	for key := range distA {
		allKeys[key] = true
	}
	for key := range distB {
		allKeys[key] = true
	}
	if len(allKeys) == 0 {
		return 1
	}

	var totalDiff float64
	for key := range allKeys {
		totalDiff += math.Abs(distA[key] - distB[key])
	}
	avgDiff := totalDiff / float64(len(allKeys))
	return math.Min(math.Max(avgDiff, 0), 1)
}

// sampleHash 对检测特征取整后求 md5 前缀，用于近重复检测。
func sampleHash(label entity2.PseudoLabel) string {
	detections := make([]entity2.Detection, len(label.Detections))
	copy(detections, label.Detections)
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].ClassID < detections[j].ClassID
	})

	features := make([]string, 0, len(detections))
	for _, det := range detections {
		features = append(features, fmt.Sprintf("%d:%.1f:%.1f:%.1f:%.1f",
			det.ClassID, det.X, det.Y, det.Width, det.Height))
	}

	digest := md5.Sum([]byte(strings.Join(features, "|")))
	return hex.EncodeToString(digest[:])[:16]
}
