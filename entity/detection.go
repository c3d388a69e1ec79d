package entity

// Detection 是一条 YOLO 检测结果：类别、归一化中心点框、置信度。
type Detection struct {
	ClassID    int     `json:"class_id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// ImagePrediction 是单张图像的推理输出。
type ImagePrediction struct {
	ImagePath  string      `json:"image_path"`
	Detections []Detection `json:"detections"`
}

// 课程学习难度分组
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// PseudoLabel 是一张弱标注图像：检测列表、质量分数、课程难度。
// 由伪标签过滤器产出，训练阶段按 easy -> hard 顺序消费。
type PseudoLabel struct {
	ImagePath            string      `json:"image_path"`
	LabelPath            string      `json:"label_path,omitempty"`
	Detections           []Detection `json:"detections"`
	NumDetections        int         `json:"num_detections"`
	QualityScore         float64     `json:"quality_score"`
	CurriculumDifficulty string      `json:"curriculum_difficulty,omitempty"`
}
