package v1

import (
	"net/http"

	entity2 "evolabeler/entity"
	"evolabeler/service"

	"github.com/gin-gonic/gin"
)

type ProjectController struct {
	projectService *service.ProjectService
}

func NewProjectController() *ProjectController {
	return &ProjectController{
		projectService: service.NewProjectService(),
	}
}

// CreateProject handles POST /v1/projects
func (c *ProjectController) CreateProject(ctx *gin.Context) {
	var project entity2.Project
	if err := ctx.ShouldBindJSON(&project); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := c.projectService.CreateProject(ctx.Request.Context(), &project); err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, project)
}

// GetAllProjects handles GET /v1/projects
func (c *ProjectController) GetAllProjects(ctx *gin.Context) {
	var params entity2.QueryParams
	if err := ctx.ShouldBindQuery(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := c.projectService.GetAllProjects(ctx.Request.Context(), params)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// GetProject handles GET /v1/projects/:id
func (c *ProjectController) GetProject(ctx *gin.Context) {
	id, err := parseUintPathParam(ctx, "id")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := c.projectService.GetProject(ctx.Request.Context(), id)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, project)
}
