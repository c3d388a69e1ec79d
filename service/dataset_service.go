package service

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"evolabeler/config"
	entity2 "evolabeler/entity"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoTrainingSamples   = errors.New("没有可装配的训练样本")
	ErrClassNamesRequired  = errors.New("类别名称列表不能为空")
	ErrMalformedLabelLine  = errors.New("标签文件格式错误")
	ErrDatasetDirRequired  = errors.New("数据集目录不能为空")
	ErrUploaderFactoryNil  = errors.New("dataset uploader factory is nil")
	ErrRemoteDatasetTarget = errors.New("远程数据集目录不能为空")
)

// datasetManifest 是 YOLO data.yaml 清单的结构。
type datasetManifest struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

type datasetUploader interface {
	UploadFile(localPath, remotePath string) (int64, error)
	Close() error
}

type datasetUploaderFactory interface {
	New(server TrainerServerConfig) (datasetUploader, error)
}

// DatasetService 负责把课程排序后的伪标签装配成 YOLO 训练集：
// 落盘图片与标签文件、生成 data.yaml 清单、推送到训练机。
type DatasetService struct {
	server          TrainerServerConfig
	uploaderFactory datasetUploaderFactory
}

func NewDatasetService() *DatasetService {
	server := TrainerServerConfig{
		Port:    DefaultTrainerPort,
		WorkDir: DefaultTrainerWorkDir,
		Timeout: defaultTrainerDialTimeout,
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
	}

	return &DatasetService{
		server:          server,
		uploaderFactory: &sftpDatasetUploaderFactory{},
	}
}

// AssembleTrainingSet 在 destDir 下生成 images/ labels/ 与 data.yaml，
// 返回清单文件路径。标签按传入的课程顺序逐个写入。
func (s *DatasetService) AssembleTrainingSet(labels []entity2.PseudoLabel, classNames []string, destDir string) (string, error) {
	logger := serviceLogger().With("service", "DatasetService", "method", "AssembleTrainingSet")

	if len(labels) == 0 {
		logger.Warn("assemble training set failed: no samples")
		return "", ErrNoTrainingSamples
	}
	if len(classNames) == 0 {
		logger.Warn("assemble training set failed: class names missing")
		return "", ErrClassNamesRequired
	}
	if strings.TrimSpace(destDir) == "" {
		return "", ErrDatasetDirRequired
	}

	imagesDir := filepath.Join(destDir, "images")
	labelsDir := filepath.Join(destDir, "labels")
	for _, dir := range []string{imagesDir, labelsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create dataset dir failed: %w", err)
		}
	}

	written := 0
	for i := range labels {
		label := &labels[i]
		imageName := filepath.Base(label.ImagePath)

		if err := copyLocalFile(label.ImagePath, filepath.Join(imagesDir, imageName)); err != nil {
			logger.Warn("copy image into dataset failed", "image", label.ImagePath, "error", err)
			continue
		}

		labelName := strings.TrimSuffix(imageName, filepath.Ext(imageName)) + ".txt"
		labelPath := filepath.Join(labelsDir, labelName)
		if err := writeLabelFile(labelPath, label.Detections); err != nil {
			return "", fmt.Errorf("write label file failed: %w", err)
		}
		label.LabelPath = labelPath
		written++
	}
	if written == 0 {
		logger.Warn("assemble training set failed: all images unreadable")
		return "", ErrNoTrainingSamples
	}

	manifest := datasetManifest{
		Path:  destDir,
		Train: "images",
		Val:   "images",
		NC:    len(classNames),
		Names: make(map[int]string, len(classNames)),
	}
	for i, name := range classNames {
		manifest.Names[i] = name
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshal data.yaml failed: %w", err)
	}
	manifestPath := filepath.Join(destDir, "data.yaml")
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return "", fmt.Errorf("write data.yaml failed: %w", err)
	}

	logger.Info("training set assembled",
		"sample_count", written,
		"class_count", len(classNames),
		"manifest", manifestPath,
	)
	return manifestPath, nil
}

// writeLabelFile 按 YOLO txt 格式写入单张图片的标签。
// 每行: class_id x_center y_center width height confidence。
func writeLabelFile(labelPath string, detections []entity2.Detection) error {
	var sb strings.Builder
	for _, det := range detections {
		fmt.Fprintf(&sb, "%d %.6f %.6f %.6f %.6f %.4f\n",
			det.ClassID, det.X, det.Y, det.Width, det.Height, det.Confidence)
	}
	return os.WriteFile(labelPath, []byte(sb.String()), 0o644)
}

// ParseLabelFile 解析 YOLO txt 标签，置信度列可选（人工真值没有该列）。
func (s *DatasetService) ParseLabelFile(labelPath string) ([]entity2.Detection, error) {
	file, err := os.Open(labelPath)
	if err != nil {
		return nil, fmt.Errorf("open label file failed: %w", err)
	}
	defer file.Close()

	var detections []entity2.Detection
	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("%w: %s:%d", ErrMalformedLabelLine, labelPath, lineNumber)
		}

		classID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d", ErrMalformedLabelLine, labelPath, lineNumber)
		}

		values := make([]float64, 0, len(fields)-1)
		for _, field := range fields[1:] {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s:%d", ErrMalformedLabelLine, labelPath, lineNumber)
			}
			values = append(values, value)
		}

		detection := entity2.Detection{
			ClassID: classID,
			X:       values[0],
			Y:       values[1],
			Width:   values[2],
			Height:  values[3],
		}
		// 人工真值没有置信度列，按中性值 0.5 处理。
		detection.Confidence = 0.5
		if len(values) >= 5 {
			detection.Confidence = values[4]
		}
		detections = append(detections, detection)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read label file failed: %w", err)
	}
	return detections, nil
}

// UploadTrainingSet 把装配好的数据集目录整体推送到训练机，
// 返回远端 data.yaml 路径供训练命令引用。
func (s *DatasetService) UploadTrainingSet(localDir, remoteDir string) (string, error) {
	logger := serviceLogger().With("service", "DatasetService", "method", "UploadTrainingSet")

	if strings.TrimSpace(localDir) == "" {
		return "", ErrDatasetDirRequired
	}
	if strings.TrimSpace(remoteDir) == "" {
		return "", ErrRemoteDatasetTarget
	}
	if s.uploaderFactory == nil {
		return "", ErrUploaderFactoryNil
	}

	uploader, err := s.uploaderFactory.New(s.server)
	if err != nil {
		logger.Error("create dataset uploader failed", "host", s.server.Host, "error", err)
		return "", err
	}
	defer func() {
		if closeErr := uploader.Close(); closeErr != nil {
			logger.Error("close dataset uploader failed", "error", closeErr)
		}
	}()

	fileCount := 0
	var totalBytes int64
	err = filepath.Walk(localDir, func(localPath string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}

		relative, relErr := filepath.Rel(localDir, localPath)
		if relErr != nil {
			return relErr
		}
		remotePath := path.Join(remoteDir, filepath.ToSlash(relative))

		written, uploadErr := uploader.UploadFile(localPath, remotePath)
		if uploadErr != nil {
			return fmt.Errorf("upload %s failed: %w", relative, uploadErr)
		}
		fileCount++
		totalBytes += written
		return nil
	})
	if err != nil {
		logger.Error("upload training set failed", "local_dir", localDir, "error", err)
		return "", err
	}

	remoteManifest := path.Join(remoteDir, "data.yaml")
	logger.Info("training set uploaded",
		"host", s.server.Host,
		"file_count", fileCount,
		"bytes", totalBytes,
		"remote_manifest", remoteManifest,
	)
	return remoteManifest, nil
}

func copyLocalFile(srcPath, dstPath string) error {
	if filepath.Clean(srcPath) == filepath.Clean(dstPath) {
		return nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

type sftpDatasetUploaderFactory struct{}

func (f *sftpDatasetUploaderFactory) New(server TrainerServerConfig) (datasetUploader, error) {
	return newSFTPDatasetUploader(server)
}

type sftpDatasetUploader struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

func newSFTPDatasetUploader(server TrainerServerConfig) (*sftpDatasetUploader, error) {
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

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("create sftp client failed: %w", err)
	}

	return &sftpDatasetUploader{
		sshClient:  sshClient,
		sftpClient: sftpClient,
	}, nil
}

func (u *sftpDatasetUploader) UploadFile(localPath, remotePath string) (int64, error) {
	src, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return 0, fmt.Errorf("open local file failed: %w", err)
	}
	defer src.Close()

	if err := u.sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("create remote directory failed: %w", err)
	}

	dst, err := u.sftpClient.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create remote file failed: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		return 0, fmt.Errorf("write remote file failed: %w", err)
	}
	return written, nil
}

func (u *sftpDatasetUploader) Close() error {
	var firstErr error
	if u.sftpClient != nil {
		if err := u.sftpClient.Close(); err != nil {
			firstErr = err
		}
	}
	if u.sshClient != nil {
		if err := u.sshClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
