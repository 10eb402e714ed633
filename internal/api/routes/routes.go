package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yoockh/deepfake-detector/internal/api/handlers"
	"github.com/yoockh/deepfake-detector/internal/api/middleware"
)

type Deps struct {
	Analysis *handlers.AnalysisHandler
	Metrics  *handlers.MetricsHandler
	Queue    *handlers.QueueHandler
	Health   *handlers.HealthHandler
	WS       *handlers.WSHandler

	Auth middleware.AuthConfig
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/health", d.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/status", d.Health.Status)

	auth := api.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	auth.POST("/analyze", d.Analysis.Analyze)
	auth.GET("/history", d.Analysis.History)
	auth.GET("/sessions/:session_id", d.Analysis.Result)
	auth.GET("/sessions/:session_id/state", d.Analysis.State)
	auth.GET("/sessions/:session_id/upload", d.Analysis.Upload)

	auth.GET("/metrics/current", d.Metrics.Current)
	auth.GET("/metrics/history/:date", d.Metrics.History)

	auth.GET("/queue", d.Queue.Status)
	auth.DELETE("/queue", middleware.RequireAdmin(), d.Queue.Clear)

	// WebSocket
	ws := r.Group("/ws")
	ws.Use(middleware.JWTAuth(d.Auth))
	ws.GET("/session/:session_id", d.WS.SessionWS)
}
