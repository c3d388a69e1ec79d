package v1

import (
	"errors"
	"net/http"

	"evolabeler/service"

	"github.com/gin-gonic/gin"
)

type UploadController struct {
	uploadService *service.UploadService
}

func NewUploadController() *UploadController {
	return &UploadController{
		uploadService: service.NewUploadService(),
	}
}

// UploadProjectImages handles POST /v1/projects/:id/images
// 保存一批初始图片，返回的路径随后作为 CreateJob 的 image_paths 使用。
func (c *UploadController) UploadProjectImages(ctx *gin.Context) {
	id, err := parseUintPathParam(ctx, "id")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "multipart form is required"})
		return
	}
	files := form.File["files"]

	results, err := c.uploadService.SaveImageFiles(id, files)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoUploadFiles),
			errors.Is(err, service.ErrInvalidUploadFile),
			errors.Is(err, service.ErrUnsupportedImageType):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			writeHTTPError(ctx, err)
		}
		return
	}

	paths := make([]string, 0, len(results))
	for _, result := range results {
		paths = append(paths, result.SavedPath)
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"project_id":  id,
		"count":       len(results),
		"files":       results,
		"image_paths": paths,
	})
}
