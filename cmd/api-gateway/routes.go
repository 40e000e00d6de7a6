package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/smorting-auth/internal/handler"
	internalmiddleware "github.com/noah-isme/smorting-auth/internal/middleware"
	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/internal/service"
	"github.com/noah-isme/smorting-auth/pkg/config"
	"github.com/noah-isme/smorting-auth/pkg/logger"
	corsmiddleware "github.com/noah-isme/smorting-auth/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/smorting-auth/pkg/middleware/requestid"
)

type routerDeps struct {
	auth       *handler.AuthHandler
	admin      *handler.AdminHandler
	metrics    *handler.MetricsHandler
	metricsSvc *service.MetricsService
	resolver   internalmiddleware.IdentityResolver
	limiter    *internalmiddleware.IPRateLimiter
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(deps.metricsSvc, "/health", "/ready", "/metrics"))

	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authenticated := internalmiddleware.Authenticate(deps.resolver)

	auth := api.Group("/auth")
	auth.Use(internalmiddleware.RateLimit(deps.limiter))
	auth.POST("/register", deps.auth.Register)
	auth.POST("/login", deps.auth.Login)
	auth.POST("/refresh", deps.auth.Refresh)
	auth.POST("/logout", authenticated, deps.auth.Logout)
	auth.POST("/logout-all", authenticated, deps.auth.LogoutAll)
	auth.GET("/me", authenticated, deps.auth.Me)
	auth.GET("/sessions", authenticated, deps.auth.Sessions)

	admin := api.Group("/admin", authenticated, internalmiddleware.RequireRoles(models.RoleAdmin))
	admin.POST("/security/revoke", deps.admin.RevokeUser)
	admin.GET("/lockouts", deps.admin.Lockouts)

	return r
}
