package router

import (
	v2 "evolabeler/handler/v1"

	"github.com/gin-gonic/gin"
)

func SetupRouter() *gin.Engine {
	projectController := v2.NewProjectController()
	jobController := v2.NewJobController()
	versionController := v2.NewModelVersionController()
	uploadController := v2.NewUploadController()

	r := gin.Default()
	r.Use(gin.Recovery())

	v1Group := r.Group("/v1")
	{
		// Project routes
		projects := v1Group.Group("/projects")
		{
			projects.POST("", projectController.CreateProject)
			projects.GET("", projectController.GetAllProjects)
			projects.GET("/:id", projectController.GetProject)
			projects.POST("/:id/images", uploadController.UploadProjectImages)
			projects.GET("/:id/model-versions", versionController.GetProjectModelVersions)
			projects.GET("/:id/model-versions/active", versionController.GetActiveModelVersion)
			projects.POST("/:id/rollback", versionController.RollbackProject)
		}

		// Job routes
		jobs := v1Group.Group("/jobs")
		{
			jobs.POST("", jobController.CreateJob)
			jobs.GET("", jobController.GetAllJobs)
			jobs.GET("/:id", jobController.GetJob)
			jobs.GET("/:id/status", jobController.GetJobStatus)
			jobs.GET("/:id/rounds", jobController.GetJobRounds)
		}
	}

	return r
}
