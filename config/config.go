package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	DB      DBConfig      `yaml:"db"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
	Qwen    QwenConfig    `yaml:"qwen"`
	Trainer TrainerConfig `yaml:"trainer"`
	Crawler CrawlerConfig `yaml:"crawler"`
	EvoLoop EvoLoopConfig `yaml:"evoloop"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DBConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Path string `yaml:"path"`
}

// QwenConfig 配置 Qwen 的 OpenAI 兼容接口（DashScope compatible-mode）。
type QwenConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// TrainerConfig 描述远程 GPU 训练机的 SSH 入口和 YOLO 工作目录。
type TrainerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	PrivateKeyPath string `yaml:"private_key_path"`
	WorkDir        string `yaml:"work_dir"`
	PythonBin      string `yaml:"python_bin"`
	Epochs         int    `yaml:"epochs"`
	BatchSize      int    `yaml:"batch_size"`
	ImgSize        int    `yaml:"img_size"`
	BaseWeights    string `yaml:"base_weights"`
}

type CrawlerConfig struct {
	Headless    bool   `yaml:"headless"`
	DownloadDir string `yaml:"download_dir"`
}

// EvoLoopConfig 控制自进化循环的轮次上限与各阶段超时。
// 超时为秒数，零值使用默认（分析 5 分钟、获取 30 分钟、训练 2 小时）。
type EvoLoopConfig struct {
	MaxRounds          int `yaml:"max_rounds"`
	AnalysisTimeout    int `yaml:"analysis_timeout_seconds"`
	AcquisitionTimeout int `yaml:"acquisition_timeout_seconds"`
	TrainingTimeout    int `yaml:"training_timeout_seconds"`
}

const (
	DefaultMaxRounds          = 5
	defaultAnalysisTimeout    = 5 * time.Minute
	defaultAcquisitionTimeout = 30 * time.Minute
	defaultTrainingTimeout    = 2 * time.Hour
)

func (c EvoLoopConfig) MaxRoundsOrDefault() int {
	if c.MaxRounds <= 0 {
		return DefaultMaxRounds
	}
	return c.MaxRounds
}

func (c EvoLoopConfig) AnalysisTimeoutOrDefault() time.Duration {
	if c.AnalysisTimeout <= 0 {
		return defaultAnalysisTimeout
	}
	return time.Duration(c.AnalysisTimeout) * time.Second
}

func (c EvoLoopConfig) AcquisitionTimeoutOrDefault() time.Duration {
	if c.AcquisitionTimeout <= 0 {
		return defaultAcquisitionTimeout
	}
	return time.Duration(c.AcquisitionTimeout) * time.Second
}

func (c EvoLoopConfig) TrainingTimeoutOrDefault() time.Duration {
	if c.TrainingTimeout <= 0 {
		return defaultTrainingTimeout
	}
	return time.Duration(c.TrainingTimeout) * time.Second
}

var AppConfig *Config

func InitConfig() error {
	data, err := os.ReadFile("config/config.yaml")
	if err != nil {
		return fmt.Errorf("read config file failed: %v", err)
	}

	AppConfig = &Config{}
	err = yaml.Unmarshal(data, AppConfig)
	if err != nil {
		return fmt.Errorf("unmarshal config failed: %v", err)
	}

	return nil
}
