package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/genqueue/internal/api/handler"
)

// Options configures the optional endpoints of the router
type Options struct {
	// MetricsPath and MetricsHandler mount the Prometheus scrape endpoint when
	// MetricsHandler is set.
	MetricsPath    string
	MetricsHandler http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", HealthHandler(deps.HealthCheck, deps.DBStats))

	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.MetricsHandler))
	}

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List an owner's jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// DELETE /api/v1/jobs/:job_id - Delete a job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		// GET /api/v1/types/:job_type/active - Find the active job for a payload field
		v1.GET("/types/:job_type/active", jobHandler.GetActiveJob)

		// POST /api/v1/maintenance/sweep - Fail stale processing jobs
		v1.POST("/maintenance/sweep", jobHandler.SweepStaleJobs)
	}

	return r
}
