package service

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	entity2 "evolabeler/entity"

	"golang.org/x/sync/errgroup"
)

const (
	// 伪标签准入的默认置信度阈值
	DefaultConfidenceThreshold = 0.5

	// 质量评分中高置信度检测的阈值
	highConfidenceThreshold = 0.7

	// 去重桶中最多保留的图片数
	maxImagesPerBucket = 3

	// 特征签名哈希前缀长度（十六进制字符数）
	signaturePrefixLen = 16

	scoreWorkers = 8
)

// PseudoLabelService 把原始伪标签加工成可训练的候选集：
// 过滤低置信度检测、按质量打分、按特征签名去重、按课程难度排序。
type PseudoLabelService struct {
	ConfidenceThreshold float64
}

func NewPseudoLabelService() *PseudoLabelService {
	return &PseudoLabelService{
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Filter 去掉低置信度检测，丢弃没有存活检测的图片。
func (s *PseudoLabelService) Filter(predictions []entity2.ImagePrediction) []entity2.PseudoLabel {
	logger := serviceLogger().With("func", "Filter")

	var labels []entity2.PseudoLabel
	for _, pred := range predictions {
		var kept []entity2.Detection
		for _, det := range pred.Detections {
			if det.Confidence >= s.ConfidenceThreshold {
				kept = append(kept, det)
			}
		}
		if len(kept) == 0 {
			continue
		}
		labels = append(labels, entity2.PseudoLabel{
			ImagePath:     pred.ImagePath,
			Detections:    kept,
			NumDetections: len(kept),
		})
	}

	logger.Info("pseudo label filtering completed",
		"total", len(predictions),
		"kept", len(labels),
		"threshold", s.ConfidenceThreshold,
	)
	return labels
}

// CalculateQualityScore 按 0.5/0.3/0.2 权重对单张图片打分，结果恒在 [0,1]。
// 空检测列表得 0 分；单个检测的一致性记为 1。
func (s *PseudoLabelService) CalculateQualityScore(detections []entity2.Detection) float64 {
	if len(detections) == 0 {
		return 0
	}

	var sum float64
	highConfCount := 0
	for _, det := range detections {
		sum += det.Confidence
		if det.Confidence >= highConfidenceThreshold {
			highConfCount++
		}
	}
	avgConf := sum / float64(len(detections))
	highConfRatio := float64(highConfCount) / float64(len(detections))

	consistency := 1.0
	if len(detections) > 1 {
		var varianceSum float64
		for _, det := range detections {
			varianceSum += (det.Confidence - avgConf) * (det.Confidence - avgConf)
		}
		variance := varianceSum / float64(len(detections))
		consistency = 1 - math.Min(4*variance, 1)
	}

	return 0.5*avgConf + 0.3*highConfRatio + 0.2*consistency
}

// ScoreAll 并发为每张图片计算质量分，图片之间无顺序依赖。
func (s *PseudoLabelService) ScoreAll(labels []entity2.PseudoLabel) []entity2.PseudoLabel {
	scored := make([]entity2.PseudoLabel, len(labels))

	var group errgroup.Group
	group.SetLimit(scoreWorkers)
	var mu sync.Mutex
	for i := range labels {
		i := i
		group.Go(func() error {
			label := labels[i]
			label.QualityScore = s.CalculateQualityScore(label.Detections)
			mu.Lock()
			scored[i] = label
			mu.Unlock()
			return nil
		})
	}
	// 打分任务不会返回错误
	_ = group.Wait()

	return scored
}

// featureSignature 把图片的检测特征压缩成稳定签名：
// 类别与粗粒度位置组合后排序再取 md5 前缀。
func featureSignature(detections []entity2.Detection) string {
	features := make([]string, 0, len(detections))
	for _, det := range detections {
		features = append(features, fmt.Sprintf("%d:%d:%d",
			det.ClassID,
			int(math.Round(det.X*10)),
			int(math.Round(det.Y*10)),
		))
	}
	sort.Strings(features)

	digest := md5.Sum([]byte(strings.Join(features, ",")))
	return hex.EncodeToString(digest[:])[:signaturePrefixLen]
}

// Deduplicate 按特征签名分桶，每桶按出现顺序最多保留 3 张图片。
func (s *PseudoLabelService) Deduplicate(labels []entity2.PseudoLabel) []entity2.PseudoLabel {
	logger := serviceLogger().With("func", "Deduplicate")

	bucketCounts := make(map[string]int)
	var kept []entity2.PseudoLabel
	for _, label := range labels {
		signature := featureSignature(label.Detections)
		if bucketCounts[signature] >= maxImagesPerBucket {
			continue
		}
		bucketCounts[signature]++
		kept = append(kept, label)
	}

	if len(kept) < len(labels) {
		logger.Info("diversity deduplication dropped samples",
			"before", len(labels),
			"after", len(kept),
		)
	}
	return kept
}

// OrderByCurriculum 按质量分降序排序并三等分标注难度，easy 在前。
// 余数并入最后一组。
func (s *PseudoLabelService) OrderByCurriculum(labels []entity2.PseudoLabel) []entity2.PseudoLabel {
	ordered := make([]entity2.PseudoLabel, len(labels))
	copy(ordered, labels)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].QualityScore > ordered[j].QualityScore
	})

	// 不足三条时无法分组，全部按 easy 处理。
	groupSize := len(ordered) / 3
	for i := range ordered {
		switch {
		case groupSize == 0 || i < groupSize:
			ordered[i].CurriculumDifficulty = entity2.DifficultyEasy
		case i < 2*groupSize:
			ordered[i].CurriculumDifficulty = entity2.DifficultyMedium
		default:
			ordered[i].CurriculumDifficulty = entity2.DifficultyHard
		}
	}
	return ordered
}

// Process 执行完整的伪标签加工流水线并返回总体质量统计。
func (s *PseudoLabelService) Process(predictions []entity2.ImagePrediction) ([]entity2.PseudoLabel, entity2.QualityMetrics) {
	filtered := s.Filter(predictions)
	scored := s.ScoreAll(filtered)
	deduplicated := s.Deduplicate(scored)
	ordered := s.OrderByCurriculum(deduplicated)

	return ordered, s.aggregateMetrics(ordered, len(predictions))
}

func (s *PseudoLabelService) aggregateMetrics(labels []entity2.PseudoLabel, totalCount int) entity2.QualityMetrics {
	metrics := entity2.QualityMetrics{
		FilteredCount: len(labels),
		TotalCount:    totalCount,
	}
	if totalCount > 0 {
		metrics.RetentionRate = float64(len(labels)) / float64(totalCount)
	}
	if len(labels) == 0 {
		return metrics
	}

	minScore := labels[0].QualityScore
	maxScore := labels[0].QualityScore
	var sum float64
	for _, label := range labels {
		sum += label.QualityScore
		if label.QualityScore < minScore {
			minScore = label.QualityScore
		}
		if label.QualityScore > maxScore {
			maxScore = label.QualityScore
		}
	}
	mean := sum / float64(len(labels))

	var varianceSum float64
	for _, label := range labels {
		varianceSum += (label.QualityScore - mean) * (label.QualityScore - mean)
	}

	metrics.AverageQualityScore = mean
	metrics.MinQualityScore = minScore
	metrics.MaxQualityScore = maxScore
	metrics.StdQualityScore = math.Sqrt(varianceSum / float64(len(labels)))
	return metrics
}
