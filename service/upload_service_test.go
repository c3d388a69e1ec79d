package service

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadServiceSaveImageFiles(t *testing.T) {
	tmpDir := t.TempDir()
	svc := &UploadService{Root: filepath.Join(tmpDir, "uploads")}

	srcFilePath := filepath.Join(tmpDir, "scene 001.jpg")
	err := os.WriteFile(srcFilePath, []byte("jpeg-bytes"), 0o644)
	assert.NoError(t, err)

	fileHeader := mustBuildFileHeader(t, "files", srcFilePath)
	results, err := svc.SaveImageFiles(7, []*multipart.FileHeader{fileHeader})
	assert.NoError(t, err)
	assert.Len(t, results, 1)

	// 文件名清洗：空格被替换，扩展名保留
	assert.True(t, strings.HasSuffix(results[0].FileName, ".jpg"))
	assert.NotContains(t, results[0].FileName, " ")
	assert.Contains(t, results[0].SavedPath, "project_7")
	assert.Equal(t, int64(len("jpeg-bytes")), results[0].Size)

	_, err = os.Stat(filepath.FromSlash(results[0].SavedPath))
	assert.NoError(t, err)
}

func TestUploadServiceRejectsNonImageFile(t *testing.T) {
	tmpDir := t.TempDir()
	svc := &UploadService{Root: filepath.Join(tmpDir, "uploads")}

	srcFilePath := filepath.Join(tmpDir, "weights.pt")
	err := os.WriteFile(srcFilePath, []byte("not an image"), 0o644)
	assert.NoError(t, err)

	fileHeader := mustBuildFileHeader(t, "files", srcFilePath)
	_, err = svc.SaveImageFiles(7, []*multipart.FileHeader{fileHeader})
	assert.ErrorIs(t, err, ErrUnsupportedImageType)
}

func TestUploadServiceRejectsEmptyBatch(t *testing.T) {
	svc := NewUploadService()
	_, err := svc.SaveImageFiles(7, nil)
	assert.ErrorIs(t, err, ErrNoUploadFiles)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "scene_001", sanitizeFileName("scene 001"))
	assert.Equal(t, "a-b_c.d", sanitizeFileName("a-b_c.d"))
	assert.Equal(t, "file", sanitizeFileName("???"))
}

func mustBuildFileHeader(t *testing.T, fieldName, filePath string) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(fieldName, filepath.Base(filePath))
	assert.NoError(t, err)

	src, err := os.Open(filePath)
	assert.NoError(t, err)
	defer src.Close()

	_, err = io.Copy(part, src)
	assert.NoError(t, err)

	err = writer.Close()
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	err = req.ParseMultipartForm(32 << 20)
	assert.NoError(t, err)

	files := req.MultipartForm.File[fieldName]
	if len(files) == 0 {
		t.Fatalf("multipart form field %s is empty", fieldName)
	}
	return files[0]
}
