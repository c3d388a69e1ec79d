package v1

import (
	"net/http"
	"strings"

	entity2 "evolabeler/entity"
	"evolabeler/service"

	"github.com/gin-gonic/gin"
)

type JobController struct {
	jobService    *service.JobService
	statusService *service.JobStatusService
}

func NewJobController() *JobController {
	return &JobController{
		jobService:    service.NewJobService(),
		statusService: service.NewJobStatusService(),
	}
}

type createJobPayload struct {
	ProjectID  uint     `json:"project_id" binding:"required"`
	ImagePaths []string `json:"image_paths" binding:"required"`
	MaxRounds  int      `json:"max_rounds"`
}

// CreateJob handles POST /v1/jobs
// 接受项目与初始图像引用，启动后台自进化循环并立即返回任务。
func (c *JobController) CreateJob(ctx *gin.Context) {
	var payload createJobPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := c.jobService.StartJob(ctx.Request.Context(), payload.ProjectID, payload.ImagePaths, payload.MaxRounds)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, job)
}

// GetAllJobs handles GET /v1/jobs
func (c *JobController) GetAllJobs(ctx *gin.Context) {
	var params entity2.QueryParams
	if err := ctx.ShouldBindQuery(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := c.jobService.GetAllJobs(ctx.Request.Context(), params)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// GetJob handles GET /v1/jobs/:id
func (c *JobController) GetJob(ctx *gin.Context) {
	jobID := strings.TrimSpace(ctx.Param("id"))
	if jobID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "job id is required"})
		return
	}

	job, err := c.jobService.GetJob(ctx.Request.Context(), jobID)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, job)
}

// GetJobStatus handles GET /v1/jobs/:id/status
// 读取 redis 中的实时进度，不落库。
func (c *JobController) GetJobStatus(ctx *gin.Context) {
	jobID := strings.TrimSpace(ctx.Param("id"))
	if jobID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "job id is required"})
		return
	}

	status, err := c.statusService.GetStatus(ctx.Request.Context(), jobID)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, status)
}

// GetJobRounds handles GET /v1/jobs/:id/rounds
func (c *JobController) GetJobRounds(ctx *gin.Context) {
	jobID := strings.TrimSpace(ctx.Param("id"))
	if jobID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "job id is required"})
		return
	}

	var params entity2.QueryParams
	if err := ctx.ShouldBindQuery(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := c.jobService.GetJobRounds(ctx.Request.Context(), jobID, params)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}
