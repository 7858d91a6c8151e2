package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/lecture-queue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "lecture-api-service"
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": serviceName,
					"error":   err.Error(),
				})
				return
			}
		}
		resp := gin.H{
			"status":  "healthy",
			"service": serviceName,
		}
		// wakes are hints; a lost broker degrades pickup latency, not correctness
		if deps.Broker != nil {
			if deps.Broker.IsConnected() {
				resp["broker"] = "connected"
			} else {
				resp["status"] = "degraded"
				resp["broker"] = "disconnected"
			}
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		transcriptions := v1.Group("/transcriptions")
		{
			// POST /api/v1/transcriptions - Upload audio and enqueue it
			transcriptions.POST("", jobHandler.Enqueue)

			// GET /api/v1/transcriptions/:job_id/status - Poll a job
			transcriptions.GET("/:job_id/status", jobHandler.GetStatus)
		}

		// GET /api/v1/queue - Processing file and backlog size
		v1.GET("/queue", jobHandler.GetQueueSummary)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with status filter and pagination
			jobs.GET("", jobHandler.ListJobs)

			// DELETE /api/v1/jobs/:job_id - Purge a failed or completed job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}
	}

	return r
}
