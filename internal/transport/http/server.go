package http

import (
	"github.com/gin-gonic/gin"

	"textbook-rag/internal/bootstrap"
	"textbook-rag/internal/transport/http/handler"
	"textbook-rag/internal/transport/http/middleware"
)

type routeConfig struct {
	ginMode   string
	jwtSecret string
	adminRole string
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	var jobs handler.JobPublisher
	if app.Jobs != nil {
		jobs = app.Jobs
	}
	return routes(
		routeConfig{
			ginMode:   app.Config.App.GinMode,
			jwtSecret: app.Config.Auth.JWTSecret,
			adminRole: app.Config.Auth.AdminRole,
		},
		handler.NewRAGHandler(app.Query, app.Sessions),
		handler.NewAdminHandler(app.Ingest, jobs, app.Sessions),
		handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, app.HealthChecks()),
	)
}

func routes(cfg routeConfig, ragHandler *handler.RAGHandler, adminHandler *handler.AdminHandler, healthHandler *handler.HealthHandler) *gin.Engine {
	gin.SetMode(cfg.ginMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/healthz", healthHandler.Check)

	v1 := router.Group("/api/v1")
	ragGroup := v1.Group("/rag")
	ragGroup.Use(middleware.OptionalOwner(cfg.jwtSecret))
	ragGroup.POST("/query", ragHandler.Query)
	ragGroup.POST("/sessions", ragHandler.CreateSession)
	ragGroup.GET("/sessions/:id/messages", ragHandler.ListMessages)

	adminGroup := v1.Group("/admin")
	adminGroup.Use(middleware.RequireAdmin(cfg.jwtSecret, cfg.adminRole))
	adminGroup.POST("/ingest", adminHandler.Ingest)
	adminGroup.POST("/ingest/batch", adminHandler.IngestBatch)
	adminGroup.POST("/ingest/jobs", adminHandler.EnqueueJob)
	adminGroup.POST("/ingest/pdf", adminHandler.UploadPDF)
	adminGroup.POST("/reindex", adminHandler.Reindex)
	adminGroup.DELETE("/sessions/:id", adminHandler.DeleteSession)

	return router
}
