package v1

import (
	"net/http"

	entity2 "evolabeler/entity"
	"evolabeler/service"

	"github.com/gin-gonic/gin"
)

type ModelVersionController struct {
	versionService *service.ModelVersionService
}

func NewModelVersionController() *ModelVersionController {
	return &ModelVersionController{
		versionService: service.NewModelVersionService(),
	}
}

// GetProjectModelVersions handles GET /v1/projects/:id/model-versions
func (c *ModelVersionController) GetProjectModelVersions(ctx *gin.Context) {
	id, err := parseUintPathParam(ctx, "id")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var params entity2.QueryParams
	if err := ctx.ShouldBindQuery(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params.ProjectID = &id

	result, err := c.versionService.GetAllVersions(ctx.Request.Context(), params)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// GetActiveModelVersion handles GET /v1/projects/:id/model-versions/active
func (c *ModelVersionController) GetActiveModelVersion(ctx *gin.Context) {
	id, err := parseUintPathParam(ctx, "id")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	version, err := c.versionService.GetActiveVersion(ctx.Request.Context(), id)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, version)
}

// RollbackProject handles POST /v1/projects/:id/rollback
// 人工触发回滚到历史最佳版本。执行失败作为 200 返回结构化结果，
// 与"请求本身非法"区分。
func (c *ModelVersionController) RollbackProject(ctx *gin.Context) {
	id, err := parseUintPathParam(ctx, "id")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := c.versionService.RollbackProject(ctx.Request.Context(), id)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}
