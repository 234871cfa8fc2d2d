package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/tripatlas/tripatlas-backend/internal/http/handlers"
	httpMW "github.com/tripatlas/tripatlas-backend/internal/http/middleware"
)

type RouterConfig struct {
	AnalysisHandler *httpH.AnalysisHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.AnalysisHandler != nil {
			api.GET("/users/:user_id/analysis", cfg.AnalysisHandler.GetAnalysis)
			api.GET("/users/:user_id/analysis/progress", cfg.AnalysisHandler.GetProgress)
			api.POST("/users/:user_id/analysis", cfg.AnalysisHandler.GenerateAnalysis)
			api.POST("/users/:user_id/analysis/refresh-check", cfg.AnalysisHandler.RefreshCheck)
			api.GET("/users/:user_id/quota", cfg.AnalysisHandler.GetQuota)
		}
	}

	return r
}
