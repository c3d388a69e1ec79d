package service

import (
	"math"
	"sort"

	entity2 "evolabeler/entity"
)

const (
	// 置信度分类阈值
	lowConfidenceThreshold = 0.5
	boundaryLowerBound     = 0.4
	boundaryUpperBound     = 0.6

	// 高价值图片返回上限
	highValueImageLimit = 20
)

// UncertaintyService 将每张图片的检测结果汇总为主动学习信号：
// 置信度/熵统计、采集优先级以及下一轮的采集建议。
type UncertaintyService struct{}

func NewUncertaintyService() *UncertaintyService {
	return &UncertaintyService{}
}

// binaryEntropy 计算单个检测置信度的二元熵，p 取 0 或 1 时熵为 0。
func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

// Analyze 汇总所有检测的不确定性指标。
// 空检测集合视为最大不确定性，强制触发采集而不是静默停滞。
func (s *UncertaintyService) Analyze(predictions []entity2.ImagePrediction) entity2.UncertaintyMetrics {
	logger := serviceLogger().With("func", "Analyze")

	var confidences []float64
	for _, pred := range predictions {
		for _, det := range pred.Detections {
			confidences = append(confidences, det.Confidence)
		}
	}

	if len(confidences) == 0 {
		logger.Warn("no detections found, treating as maximal uncertainty")
		return entity2.UncertaintyMetrics{
			MeanConfidence:      0,
			StdConfidence:       0,
			EntropyScore:        1,
			UncertaintyScore:    1,
			LowConfidenceRatio:  1,
			BoundarySampleRatio: 1,
			TotalDetections:     0,
			Priority:            entity2.PriorityHigh,
			RequiresMoreData:    true,
		}
	}

	var sum, entropySum float64
	lowConfCount := 0
	boundaryCount := 0
	for _, conf := range confidences {
		sum += conf
		entropySum += binaryEntropy(conf)
		if conf < lowConfidenceThreshold {
			lowConfCount++
		}
		if conf > boundaryLowerBound && conf < boundaryUpperBound {
			boundaryCount++
		}
	}
	mean := sum / float64(len(confidences))

	var varianceSum float64
	for _, conf := range confidences {
		varianceSum += (conf - mean) * (conf - mean)
	}
	std := math.Sqrt(varianceSum / float64(len(confidences)))

	uncertaintyScore := 1 - mean
	lowConfRatio := float64(lowConfCount) / float64(len(confidences))
	boundaryRatio := float64(boundaryCount) / float64(len(confidences))

	// 加权决策分数决定采集优先级
	decisionScore := 0.4*uncertaintyScore + 0.35*lowConfRatio + 0.25*boundaryRatio
	priority := entity2.PriorityLow
	if decisionScore > 0.4 {
		priority = entity2.PriorityHigh
	} else if decisionScore > 0.25 {
		priority = entity2.PriorityMedium
	}

	metrics := entity2.UncertaintyMetrics{
		MeanConfidence:      mean,
		StdConfidence:       std,
		EntropyScore:        entropySum / float64(len(confidences)),
		UncertaintyScore:    uncertaintyScore,
		LowConfidenceRatio:  lowConfRatio,
		BoundarySampleRatio: boundaryRatio,
		TotalDetections:     len(confidences),
		Priority:            priority,
		RequiresMoreData:    uncertaintyScore > 0.3 || lowConfRatio > 0.2 || boundaryRatio > 0.2,
	}

	logger.Info("uncertainty analysis completed",
		"mean_confidence", mean,
		"uncertainty_score", uncertaintyScore,
		"priority", priority,
	)
	return metrics
}

// HighValueImages 按平均熵降序返回信息量最大的图片，最多 20 张。
func (s *UncertaintyService) HighValueImages(predictions []entity2.ImagePrediction) []string {
	type imageEntropy struct {
		path    string
		entropy float64
	}

	var ranked []imageEntropy
	for _, pred := range predictions {
		if len(pred.Detections) == 0 {
			continue
		}
		var total float64
		for _, det := range pred.Detections {
			total += binaryEntropy(det.Confidence)
		}
		ranked = append(ranked, imageEntropy{
			path:    pred.ImagePath,
			entropy: total / float64(len(pred.Detections)),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].entropy > ranked[j].entropy
	})
	if len(ranked) > highValueImageLimit {
		ranked = ranked[:highValueImageLimit]
	}

	paths := make([]string, 0, len(ranked))
	for _, item := range ranked {
		paths = append(paths, item.path)
	}
	return paths
}

// ClassHistogram 统计各类别的检测数量。
func (s *UncertaintyService) ClassHistogram(predictions []entity2.ImagePrediction) map[int]int {
	histogram := make(map[int]int)
	for _, pred := range predictions {
		for _, det := range pred.Detections {
			histogram[det.ClassID]++
		}
	}
	return histogram
}

// MinorityClasses 返回数量低于平均值一半的类别。
func (s *UncertaintyService) MinorityClasses(histogram map[int]int) []int {
	if len(histogram) == 0 {
		return nil
	}

	total := 0
	for _, count := range histogram {
		total += count
	}
	meanCount := float64(total) / float64(len(histogram))

	var minority []int
	for classID, count := range histogram {
		if float64(count) < meanCount/2 {
			minority = append(minority, classID)
		}
	}
	sort.Ints(minority)
	return minority
}

// BuildAcquisitionRequest 根据不确定性分析生成下一轮的采集请求。
func (s *UncertaintyService) BuildAcquisitionRequest(predictions []entity2.ImagePrediction) entity2.AnalysisResult {
	metrics := s.Analyze(predictions)
	histogram := s.ClassHistogram(predictions)
	highValue := s.HighValueImages(predictions)
	minority := s.MinorityClasses(histogram)

	suggested := 10
	reason := "模型置信度较高，少量补充数据即可"
	switch metrics.Priority {
	case entity2.PriorityHigh:
		suggested = 50
		reason = "模型不确定性较高，需要大量新数据补充训练"
	case entity2.PriorityMedium:
		suggested = 30
		reason = "模型不确定性中等，建议适量补充数据"
	}

	return entity2.AnalysisResult{
		Metrics:         metrics,
		HighValueImages: highValue,
		ClassHistogram:  histogram,
		Acquisition: entity2.AcquisitionRequest{
			ShouldAcquire:   metrics.RequiresMoreData,
			SuggestedCount:  suggested,
			Reason:          reason,
			MinorityClasses: minority,
			FocusImages:     highValue,
		},
	}
}
