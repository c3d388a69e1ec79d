package service

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrInvalidUploadFile    = errors.New("invalid upload file")
	ErrUnsupportedImageType = errors.New("不支持的图片格式")
	ErrNoUploadFiles        = errors.New("没有待上传的文件")
)

const defaultUploadRoot = "data/uploads"

var allowedImageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// UploadedImage 是单个落盘图片的记录。
type UploadedImage struct {
	FileName  string `json:"file_name"`
	SavedPath string `json:"saved_path"`
	Size      int64  `json:"size"`
}

// UploadService 接收项目的初始图片并落盘，
// 返回的路径作为任务的 uploaded_images 进入循环。
type UploadService struct {
	Root string
}

func NewUploadService() *UploadService {
	return &UploadService{
		Root: defaultUploadRoot,
	}
}

// SaveImageFiles 保存一批上传图片到项目目录，全部成功才返回。
func (s *UploadService) SaveImageFiles(projectID uint, files []*multipart.FileHeader) ([]UploadedImage, error) {
	logger := serviceLogger().With("service", "UploadService", "method", "SaveImageFiles", "project_id", projectID)

	if len(files) == 0 {
		return nil, ErrNoUploadFiles
	}

	targetDir := filepath.Join(s.Root, fmt.Sprintf("project_%d", projectID))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}

	results := make([]UploadedImage, 0, len(files))
	for _, file := range files {
		saved, err := s.saveOne(file, targetDir)
		if err != nil {
			logger.Error("save uploaded image failed", "file", fileHeaderName(file), "error", err)
			return nil, err
		}
		results = append(results, saved)
	}

	logger.Info("uploaded images saved", "count", len(results), "dir", targetDir)
	return results, nil
}

func (s *UploadService) saveOne(file *multipart.FileHeader, targetDir string) (UploadedImage, error) {
	if file == nil || strings.TrimSpace(file.Filename) == "" {
		return UploadedImage{}, ErrInvalidUploadFile
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := allowedImageExtensions[ext]; !ok {
		return UploadedImage{}, fmt.Errorf("%w: %s", ErrUnsupportedImageType, ext)
	}

	// 文件名去敏 + 短随机前缀避免同名覆盖
	base := sanitizeFileName(strings.TrimSuffix(filepath.Base(file.Filename), ext))
	storedName := fmt.Sprintf("%s_%s%s", uuid.NewString()[:8], base, ext)
	savedPath := filepath.Join(targetDir, storedName)

	src, err := file.Open()
	if err != nil {
		return UploadedImage{}, fmt.Errorf("open upload file failed: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(savedPath)
	if err != nil {
		return UploadedImage{}, fmt.Errorf("create target file failed: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return UploadedImage{}, fmt.Errorf("save upload file failed: %w", err)
	}

	return UploadedImage{
		FileName:  storedName,
		SavedPath: filepath.ToSlash(savedPath),
		Size:      n,
	}, nil
}

func fileHeaderName(file *multipart.FileHeader) string {
	if file == nil {
		return ""
	}
	return file.Filename
}

func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), "._")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}
