package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	entity2 "evolabeler/entity"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	imagePath := filepath.Join(dir, name)
	err := os.WriteFile(imagePath, []byte("jpeg-bytes"), 0o644)
	assert.NoError(t, err)
	return imagePath
}

func TestAssembleTrainingSetWritesLabelsAndManifest(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	service := &DatasetService{}

	labels := []entity2.PseudoLabel{
		{
			ImagePath: writeTestImage(t, srcDir, "scene_001.jpg"),
			Detections: []entity2.Detection{
				{ClassID: 0, X: 0.5, Y: 0.5, Width: 0.2, Height: 0.3, Confidence: 0.91},
				{ClassID: 2, X: 0.1, Y: 0.8, Width: 0.1, Height: 0.1, Confidence: 0.74},
			},
		},
		{
			ImagePath: writeTestImage(t, srcDir, "scene_002.jpg"),
			Detections: []entity2.Detection{
				{ClassID: 1, X: 0.3, Y: 0.4, Width: 0.5, Height: 0.2, Confidence: 0.88},
			},
		},
	}

	manifestPath, err := service.AssembleTrainingSet(labels, []string{"plane", "ship", "vehicle"}, destDir)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "data.yaml"), manifestPath)

	// 图片和标签文件逐一落盘
	_, err = os.Stat(filepath.Join(destDir, "images", "scene_001.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(destDir, "labels", "scene_002.txt"))
	assert.NoError(t, err)

	manifestBytes, err := os.ReadFile(manifestPath)
	assert.NoError(t, err)
	var manifest datasetManifest
	err = yaml.Unmarshal(manifestBytes, &manifest)
	assert.NoError(t, err)
	assert.Equal(t, destDir, manifest.Path)
	assert.Equal(t, 3, manifest.NC)
	assert.Equal(t, "ship", manifest.Names[1])
}

func TestAssembleTrainingSetRejectsEmptyInput(t *testing.T) {
	service := &DatasetService{}

	_, err := service.AssembleTrainingSet(nil, []string{"plane"}, t.TempDir())
	assert.ErrorIs(t, err, ErrNoTrainingSamples)

	_, err = service.AssembleTrainingSet([]entity2.PseudoLabel{{ImagePath: "a.jpg"}}, nil, t.TempDir())
	assert.ErrorIs(t, err, ErrClassNamesRequired)
}

func TestParseLabelFileRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	service := &DatasetService{}

	original := []entity2.Detection{
		{ClassID: 3, X: 0.25, Y: 0.75, Width: 0.125, Height: 0.0625, Confidence: 0.66},
		{ClassID: 0, X: 0.5, Y: 0.5, Width: 0.5, Height: 0.5, Confidence: 0.95},
	}
	labels := []entity2.PseudoLabel{
		{ImagePath: writeTestImage(t, srcDir, "roundtrip.jpg"), Detections: original},
	}

	_, err := service.AssembleTrainingSet(labels, []string{"a", "b", "c", "d"}, destDir)
	assert.NoError(t, err)

	parsed, err := service.ParseLabelFile(filepath.Join(destDir, "labels", "roundtrip.txt"))
	assert.NoError(t, err)
	assert.Len(t, parsed, 2)
	assert.Equal(t, 3, parsed[0].ClassID)
	assert.InDelta(t, 0.0625, parsed[0].Height, 1e-6)
	assert.InDelta(t, 0.95, parsed[1].Confidence, 1e-4)
}

func TestParseLabelFileAcceptsGroundTruthWithoutConfidence(t *testing.T) {
	dir := t.TempDir()
	labelPath := filepath.Join(dir, "gt.txt")
	err := os.WriteFile(labelPath, []byte("1 0.5 0.5 0.2 0.2\n\n"), 0o644)
	assert.NoError(t, err)

	service := &DatasetService{}
	parsed, err := service.ParseLabelFile(labelPath)
	assert.NoError(t, err)
	assert.Len(t, parsed, 1)
	assert.Equal(t, 1, parsed[0].ClassID)
	assert.InDelta(t, 0.5, parsed[0].Confidence, 1e-9)
}

func TestParseLabelFileRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	labelPath := filepath.Join(dir, "bad.txt")
	err := os.WriteFile(labelPath, []byte("1 0.5 0.5\n"), 0o644)
	assert.NoError(t, err)

	service := &DatasetService{}
	_, err = service.ParseLabelFile(labelPath)
	assert.ErrorIs(t, err, ErrMalformedLabelLine)
}

type fakeDatasetUploader struct {
	uploaded map[string]string
	failOn   string
	closed   bool
}

func (f *fakeDatasetUploader) UploadFile(localPath, remotePath string) (int64, error) {
	if f.failOn != "" && filepath.Base(localPath) == f.failOn {
		return 0, errors.New("sftp write failed")
	}
	if f.uploaded == nil {
		f.uploaded = make(map[string]string)
	}
	f.uploaded[filepath.Base(localPath)] = remotePath
	return int64(len(localPath)), nil
}

func (f *fakeDatasetUploader) Close() error {
	f.closed = true
	return nil
}

type fakeDatasetUploaderFactory struct {
	uploader *fakeDatasetUploader
	err      error
}

func (f *fakeDatasetUploaderFactory) New(server TrainerServerConfig) (datasetUploader, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.uploader, nil
}

func newTestDatasetService(factory datasetUploaderFactory) *DatasetService {
	return &DatasetService{
		server: TrainerServerConfig{
			Host:           "10.0.0.8",
			Port:           22,
			User:           "trainer",
			PrivateKeyPath: "/tmp/id_rsa",
			WorkDir:        "/project/evolabeler",
			Timeout:        5 * time.Second,
		},
		uploaderFactory: factory,
	}
}

func TestUploadTrainingSetMirrorsDirectoryLayout(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	labels := []entity2.PseudoLabel{
		{
			ImagePath:  writeTestImage(t, srcDir, "u1.jpg"),
			Detections: []entity2.Detection{{ClassID: 0, X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1, Confidence: 0.8}},
		},
	}
	uploader := &fakeDatasetUploader{}
	service := newTestDatasetService(&fakeDatasetUploaderFactory{uploader: uploader})

	_, err := service.AssembleTrainingSet(labels, []string{"plane"}, destDir)
	assert.NoError(t, err)

	remoteManifest, err := service.UploadTrainingSet(destDir, "/project/evolabeler/datasets/round_2")
	assert.NoError(t, err)
	assert.Equal(t, "/project/evolabeler/datasets/round_2/data.yaml", remoteManifest)
	assert.True(t, uploader.closed)

	assert.Equal(t, "/project/evolabeler/datasets/round_2/images/u1.jpg", uploader.uploaded["u1.jpg"])
	assert.Equal(t, "/project/evolabeler/datasets/round_2/labels/u1.txt", uploader.uploaded["u1.txt"])
	assert.Equal(t, "/project/evolabeler/datasets/round_2/data.yaml", uploader.uploaded["data.yaml"])
}

func TestUploadTrainingSetPropagatesUploadError(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	labels := []entity2.PseudoLabel{
		{
			ImagePath:  writeTestImage(t, srcDir, "u2.jpg"),
			Detections: []entity2.Detection{{ClassID: 0, X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1, Confidence: 0.8}},
		},
	}
	uploader := &fakeDatasetUploader{failOn: "data.yaml"}
	service := newTestDatasetService(&fakeDatasetUploaderFactory{uploader: uploader})

	_, err := service.AssembleTrainingSet(labels, []string{"plane"}, destDir)
	assert.NoError(t, err)

	_, err = service.UploadTrainingSet(destDir, "/project/evolabeler/datasets/round_3")
	assert.Error(t, err)
	assert.True(t, uploader.closed)
}

func TestUploadTrainingSetValidatesArguments(t *testing.T) {
	service := newTestDatasetService(&fakeDatasetUploaderFactory{uploader: &fakeDatasetUploader{}})

	_, err := service.UploadTrainingSet("", "/remote")
	assert.ErrorIs(t, err, ErrDatasetDirRequired)

	_, err = service.UploadTrainingSet("/local", "")
	assert.ErrorIs(t, err, ErrRemoteDatasetTarget)
}
