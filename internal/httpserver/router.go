package httpserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"jefe/internal/config"
	"jefe/internal/handlers"
	"jefe/internal/logging"
	"jefe/internal/middleware"
)

func NewRouter(cfg config.ServerConfig, h *handlers.SyncHandler, logger *logging.Logger) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", middleware.APIKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))

	r.GET("/health", h.Health)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	api := r.Group("/sync")
	api.Use(middleware.Auth(cfg.APIKey), limiter.Middleware())
	{
		api.POST("/push", h.Push)
		api.POST("/pull", h.Pull)
	}
	return r
}
