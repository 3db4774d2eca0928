package router

import (
	"github.com/cuongbtq/mortgage-recon/internal/api/handler"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(obs.GinMetrics())

	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "recon-api-service"
	}

	appHandler := handler.NewApplicationHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", appHandler.Health(serviceName))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		apps := v1.Group("/applications")
		{
			apps.POST("", appHandler.CreateApplication)
			apps.GET("/:application_id", appHandler.GetApplication)

			// Multipart upload, extraction is queued per stored document
			apps.POST("/:application_id/documents", appHandler.UploadDocuments)
			apps.POST("/:application_id/process", appHandler.StartProcessing)
			apps.POST("/:application_id/retry", appHandler.RetryProcessing)

			apps.GET("/:application_id/status", appHandler.ProcessingStatus)
			apps.GET("/:application_id/fields", appHandler.FieldStatus)
			apps.GET("/:application_id/required-documents", appHandler.RequiredDocuments)
			apps.GET("/:application_id/missing-fields", appHandler.MissingFields)

			apps.GET("/:application_id/golden", appHandler.GoldenSummary)
			apps.GET("/:application_id/golden/export", appHandler.ExportGolden)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		v1.GET("/metrics/processing", appHandler.Metrics)
	}

	return r
}
