package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the operator API.
func NewRouter(h *Handlers, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())
	router.MaxMultipartMemory = 32 << 20

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s := router.Group("/sessions")
	s.POST("", h.CreateSession)
	s.GET("/:id", h.GetSession)
	s.DELETE("/:id", h.Teardown)
	s.POST("/:id/video", h.UploadVideo)

	s.POST("/:id/logs/flight", h.UploadFlightLog)
	s.POST("/:id/logs/telemetry", h.UploadTelemetry)
	s.POST("/:id/sync", h.SyncLogs)

	s.POST("/:id/playback/toggle", h.TogglePlayback)
	s.POST("/:id/playback/skip", h.Skip)
	s.POST("/:id/playback/seek", h.Seek)
	s.POST("/:id/playback/time", h.TimeUpdated)

	s.POST("/:id/annotate/toggle", h.ToggleAnnotating)
	s.POST("/:id/points", h.PlacePoint)
	s.DELETE("/:id/points", h.AbortPair)
	s.POST("/:id/distance", h.RecordDistance)
	s.GET("/:id/calibrations", h.Calibrations)

	s.POST("/:id/bev", h.EnterBEV)
	s.DELETE("/:id/bev", h.ExitBEV)
	s.GET("/:id/bev.png", h.BEVImage)
	s.POST("/:id/results", h.EnterResults)

	s.GET("/:id/overlay.png", h.Overlay)
	s.POST("/:id/export/frame", h.ExportFrame)
	s.POST("/:id/export/video", h.ExportVideo)
	s.DELETE("/:id/export", h.CancelExport)
	s.POST("/:id/exports", h.EnqueueExport)

	router.GET("/exports/:jobID", h.ExportJob)
	router.DELETE("/exports/:jobID", h.CancelExportJob)

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, zap.String("session_id", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request failed", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
