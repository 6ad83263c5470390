package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetops/patchflow/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "patchflow-api",
		})
	})

	// Initialize patch handler
	patchHandler := handler.NewPatchHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		patch := v1.Group("/patch")
		{
			// POST /api/v1/patch - Patch one software on one machine
			patch.POST("", patchHandler.PatchSingle)

			// POST /api/v1/patch/batch - Run a patch batch synchronously
			patch.POST("/batch", patchHandler.PatchBatch)

			// POST /api/v1/patch/batch/async - Queue a patch batch for the worker
			patch.POST("/batch/async", patchHandler.PatchBatchAsync)
		}

		discovery := v1.Group("/discovery")
		{
			// POST /api/v1/discovery/run - Reconcile machines against inventory
			discovery.POST("/run", patchHandler.RunDiscovery)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List patch jobs with filtering and pagination
			jobs.GET("", patchHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get patch job details
			jobs.GET("/:job_id", patchHandler.GetJob)
		}
	}

	return r
}
