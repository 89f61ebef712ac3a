package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handler *Handler) {
	// /health and /metrics are registered by internal/server

	v1 := router.Group("/api/v1")

	jobs := v1.Group("/jobs")
	jobs.GET("", handler.ListJobs)                 // GET /api/v1/jobs
	jobs.GET("/:id", handler.GetJob)               // GET /api/v1/jobs/:id
	jobs.POST("/generate", handler.SubmitGenerate) // POST /api/v1/jobs/generate
	jobs.POST("/retrieve", handler.SubmitRetrieve) // POST /api/v1/jobs/retrieve
	jobs.POST("/reindex", handler.SubmitReindex)   // POST /api/v1/jobs/reindex

	v1.GET("/engines", handler.ListEngines)     // GET /api/v1/engines
	v1.GET("/instances", handler.ListInstances) // GET /api/v1/instances

	objects := v1.Group("/objects/:pid")
	objects.GET("/versions", handler.ListVersions)        // GET /api/v1/objects/:pid/versions
	objects.GET("/versions/:version", handler.GetVersion) // GET /api/v1/objects/:pid/versions/:version
	objects.GET("/related", handler.GetRelated)           // GET /api/v1/objects/:pid/related
	objects.PUT("/content", handler.PutContent)           // PUT /api/v1/objects/:pid/content
	objects.POST("/fetch", handler.FetchInitial)          // POST /api/v1/objects/:pid/fetch

	versions := v1.Group("/versions/:id")
	versions.GET("/ocr", handler.GetOCR)              // GET /api/v1/versions/:id/ocr
	versions.POST("/accept", handler.AcceptVersion)   // POST /api/v1/versions/:id/accept
	versions.POST("/publish", handler.PublishVersion) // POST /api/v1/versions/:id/publish
	versions.POST("/reject", handler.RejectVersion)   // POST /api/v1/versions/:id/reject
	versions.POST("/archive", handler.ArchiveVersion) // POST /api/v1/versions/:id/archive
}
