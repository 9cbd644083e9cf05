package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"drover.io/drover/internal/api/handlers"
	"drover.io/drover/internal/api/middleware"
	"drover.io/drover/internal/config"
	"drover.io/drover/internal/pkg/logger"
)

func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	if len(cfg.Server.AllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", middleware.RequestIDHeader)
		router.Use(cors.New(corsCfg))
	}

	// Probes and operational endpoints stay outside auth.
	router.GET("/healthz", server.GetHealth)
	router.Any("/log/level", gin.WrapH(logger.HTTPHandler()))

	v1 := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		v1.Use(middleware.JWTAuth([]byte(cfg.Auth.SigningKey)))
	}
	{
		v1.POST("/commands", server.PostCommand)
		v1.GET("/processes", server.ListProcesses)
		v1.GET("/processes/:id", server.GetProcess)
		v1.POST("/processes/:id/replay", server.PostReplay)
		v1.DELETE("/processes/:id/events/:event_id", server.DeleteEvent)
	}

	return router
}
