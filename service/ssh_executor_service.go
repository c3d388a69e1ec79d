package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"evolabeler/config"
	entity2 "evolabeler/entity"

	"golang.org/x/crypto/ssh"
)

const (
	DefaultTrainerPort      = 22
	DefaultTrainerPythonBin = "python3"
	DefaultTrainerWorkDir   = "/project/evolabeler"

	DefaultTrainEpochs    = 50
	DefaultTrainBatchSize = 16
	DefaultTrainImgSize   = 640
)

var (
	ErrTrainerHostRequired    = errors.New("trainer host is required")
	ErrTrainerUserRequired    = errors.New("trainer user is required")
	ErrTrainerKeyPathRequired = errors.New("trainer private key path is required")
	ErrDetectSourceEmpty      = errors.New("detect source list is empty")
	ErrTrainDatasetRequired   = errors.New("train dataset yaml is required")
	ErrRunnerFactoryNil       = errors.New("remote runner factory is nil")
)

var defaultTrainerDialTimeout = 15 * time.Second

// TrainerServerConfig 描述远程 GPU 训练机。
type TrainerServerConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	WorkDir        string
	PythonBin      string
	Timeout        time.Duration
}

type remoteCommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

type remoteCommandRunnerFactory interface {
	New(server TrainerServerConfig) (remoteCommandRunner, error)
}

// SSHExecutorService 通过 SSH 在远程训练机上执行 YOLO 训练与推理。
// 远程脚本把结果以 JSON 打到标准输出，这里负责解析成结构化记录。
type SSHExecutorService struct {
	server        TrainerServerConfig
	runnerFactory remoteCommandRunnerFactory
}

func NewSSHExecutorService() *SSHExecutorService {
	server := TrainerServerConfig{
		Port:      DefaultTrainerPort,
		PythonBin: DefaultTrainerPythonBin,
		WorkDir:   DefaultTrainerWorkDir,
		Timeout:   defaultTrainerDialTimeout,
	}
	if config.AppConfig != nil {
		trainer := config.AppConfig.Trainer
		server.Host = trainer.Host
		server.User = trainer.User
		server.PrivateKeyPath = trainer.PrivateKeyPath
		if trainer.Port > 0 {
			server.Port = trainer.Port
		}
		if strings.TrimSpace(trainer.WorkDir) != "" {
			server.WorkDir = trainer.WorkDir
		}
		if strings.TrimSpace(trainer.PythonBin) != "" {
			server.PythonBin = trainer.PythonBin
		}
	}

	return &SSHExecutorService{
		server:        server,
		runnerFactory: &sshCommandRunnerFactory{},
	}
}

// detectOutput 是远程推理脚本的标准输出格式。
type detectOutput struct {
	Predictions []entity2.ImagePrediction  `json:"predictions"`
	Metrics     *entity2.EvaluationMetrics `json:"metrics,omitempty"`
}

// trainOutput 是远程训练脚本的标准输出格式。
type trainOutput struct {
	ModelPath string                    `json:"model_path"`
	Metrics   entity2.EvaluationMetrics `json:"metrics"`
}

// RunDetect 在远程机上执行推理。
// 执行失败返回 error；跑完但没有任何检测返回空列表，两者必须区分。
func (s *SSHExecutorService) RunDetect(ctx context.Context, modelPath string, sources []string, confThreshold, iouThreshold float64) (DetectResult, error) {
	logger := serviceLogger().With("service", "SSHExecutorService", "method", "RunDetect")

	if len(sources) == 0 {
		logger.Warn("run detect failed: source list is empty")
		return DetectResult{}, ErrDetectSourceEmpty
	}
	if s.runnerFactory == nil {
		return DetectResult{}, ErrRunnerFactoryNil
	}

	command := fmt.Sprintf("cd %s && %s predict.py --model %s --source %s --conf %s --iou %s --json",
		shellQuote(s.server.WorkDir),
		s.server.PythonBin,
		shellQuote(modelPath),
		shellQuote(strings.Join(sources, ",")),
		strconv.FormatFloat(confThreshold, 'f', -1, 64),
		strconv.FormatFloat(iouThreshold, 'f', -1, 64),
	)

	logger.Info("run detect begin",
		"host", s.server.Host,
		"model_path", modelPath,
		"source_count", len(sources),
	)

	stdout, err := s.runCommand(ctx, command)
	if err != nil {
		logger.Error("run detect failed", "host", s.server.Host, "error", err)
		return DetectResult{}, fmt.Errorf("run detect failed: %w", err)
	}

	var output detectOutput
	if err := json.Unmarshal([]byte(extractJSONDocument(stdout)), &output); err != nil {
		logger.Error("parse detect output failed", "error", err)
		return DetectResult{}, fmt.Errorf("parse detect output failed: %w", err)
	}

	logger.Info("run detect success",
		"host", s.server.Host,
		"image_count", len(output.Predictions),
	)
	return DetectResult{
		Predictions: output.Predictions,
		Metrics:     output.Metrics,
	}, nil
}

// RunTrain 在远程机上执行训练，返回新模型路径与训练指标。
func (s *SSHExecutorService) RunTrain(ctx context.Context, spec TrainSpec) (TrainResult, error) {
	logger := serviceLogger().With("service", "SSHExecutorService", "method", "RunTrain")

	if strings.TrimSpace(spec.DatasetYAML) == "" {
		logger.Warn("run train failed: dataset yaml is empty")
		return TrainResult{}, ErrTrainDatasetRequired
	}
	if s.runnerFactory == nil {
		return TrainResult{}, ErrRunnerFactoryNil
	}

	normalized := s.normalizeTrainSpec(spec)
	command := fmt.Sprintf("cd %s && %s train.py --data %s --epochs %d --batch %d --imgsz %d --weights %s --json",
		shellQuote(s.server.WorkDir),
		s.server.PythonBin,
		shellQuote(normalized.DatasetYAML),
		normalized.Epochs,
		normalized.BatchSize,
		normalized.ImgSize,
		shellQuote(normalized.BaseWeights),
	)

	logger.Info("run train begin",
		"host", s.server.Host,
		"dataset", normalized.DatasetYAML,
		"epochs", normalized.Epochs,
		"batch_size", normalized.BatchSize,
	)
	start := time.Now()

	stdout, err := s.runCommand(ctx, command)
	if err != nil {
		logger.Error("run train failed", "host", s.server.Host, "error", err)
		return TrainResult{}, fmt.Errorf("run train failed: %w", err)
	}

	var output trainOutput
	if err := json.Unmarshal([]byte(extractJSONDocument(stdout)), &output); err != nil {
		logger.Error("parse train output failed", "error", err)
		return TrainResult{}, fmt.Errorf("parse train output failed: %w", err)
	}
	if strings.TrimSpace(output.ModelPath) == "" {
		return TrainResult{}, errors.New("train output missing model path")
	}

	logger.Info("run train success",
		"host", s.server.Host,
		"model_path", output.ModelPath,
		"mAP50", output.Metrics.MAP50,
		"cost_ms", time.Since(start).Milliseconds(),
	)
	return TrainResult{
		ModelPath: output.ModelPath,
		Metrics:   output.Metrics,
	}, nil
}

// normalizeTrainSpec 用配置与内置默认值补齐缺失字段。
func (s *SSHExecutorService) normalizeTrainSpec(spec TrainSpec) TrainSpec {
	normalized := spec
	var trainer config.TrainerConfig
	if config.AppConfig != nil {
		trainer = config.AppConfig.Trainer
	}

	if normalized.Epochs <= 0 {
		normalized.Epochs = trainer.Epochs
	}
	if normalized.Epochs <= 0 {
		normalized.Epochs = DefaultTrainEpochs
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = trainer.BatchSize
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = DefaultTrainBatchSize
	}
	if normalized.ImgSize <= 0 {
		normalized.ImgSize = trainer.ImgSize
	}
	if normalized.ImgSize <= 0 {
		normalized.ImgSize = DefaultTrainImgSize
	}
	if strings.TrimSpace(normalized.BaseWeights) == "" {
		normalized.BaseWeights = trainer.BaseWeights
	}
	if strings.TrimSpace(normalized.BaseWeights) == "" {
		normalized.BaseWeights = path.Join(s.server.WorkDir, "weights", "yolov8n.pt")
	}
	return normalized
}

func (s *SSHExecutorService) runCommand(ctx context.Context, command string) (string, error) {
	runner, err := s.runnerFactory.New(s.server)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = runner.Close()
	}()
	return runner.Run(ctx, command)
}

// extractJSONDocument 截取输出中第一个 '{' 到最后一个 '}' 的 JSON 文档，
// 训练脚本在 JSON 前可能打印进度日志。
func extractJSONDocument(output string) string {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end < start {
		return output
	}
	return output[start : end+1]
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func normalizeTrainerConfig(cfg TrainerServerConfig) (TrainerServerConfig, error) {
	normalized := cfg
	normalized.Host = strings.TrimSpace(normalized.Host)
	normalized.User = strings.TrimSpace(normalized.User)
	normalized.PrivateKeyPath = strings.TrimSpace(normalized.PrivateKeyPath)
	if normalized.Port <= 0 {
		normalized.Port = DefaultTrainerPort
	}
	if normalized.Timeout <= 0 {
		normalized.Timeout = defaultTrainerDialTimeout
	}
	if normalized.Host == "" {
		return TrainerServerConfig{}, ErrTrainerHostRequired
	}
	if normalized.User == "" {
		return TrainerServerConfig{}, ErrTrainerUserRequired
	}
	if normalized.PrivateKeyPath == "" {
		return TrainerServerConfig{}, ErrTrainerKeyPathRequired
	}
	return normalized, nil
}

type sshCommandRunnerFactory struct{}

func (f *sshCommandRunnerFactory) New(server TrainerServerConfig) (remoteCommandRunner, error) {
	return newSSHCommandRunner(server)
}

type sshCommandRunner struct {
	server    TrainerServerConfig
	sshClient *ssh.Client
}

func newSSHCommandRunner(server TrainerServerConfig) (*sshCommandRunner, error) {
	normalized, err := normalizeTrainerConfig(server)
	if err != nil {
		return nil, err
	}

	keyBytes, err := os.ReadFile(normalized.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key failed: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key failed: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User: normalized.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         normalized.Timeout,
	}

	address := net.JoinHostPort(normalized.Host, strconv.Itoa(normalized.Port))
	sshClient, err := ssh.Dial("tcp", address, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("dial ssh failed: %w", err)
	}

	return &sshCommandRunner{
		server:    normalized,
		sshClient: sshClient,
	}, nil
}

// Run 执行远程命令并返回标准输出。
// 上下文取消或超时会关闭会话，中止远程命令。
func (c *sshCommandRunner) Run(ctx context.Context, command string) (string, error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("create ssh session failed: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("remote command failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), nil
	}
}

func (c *sshCommandRunner) Close() error {
	if c.sshClient != nil {
		return c.sshClient.Close()
	}
	return nil
}
