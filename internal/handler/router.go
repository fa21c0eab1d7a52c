package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/course-api/internal/middleware"
	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-api/pkg/middleware/requestid"
)

// RouterConfig controls route registration.
type RouterConfig struct {
	APIPrefix      string
	UploadsDir     string
	UploadsPrefix  string
	AllowedOrigins []string
	EnableAuth     bool
	EnableDocs     bool
}

// Handlers groups the HTTP handlers mounted by NewRouter.
type Handlers struct {
	Auth     *AuthHandler
	Groups   *GroupHandler
	Students *StudentHandler
	Metrics  *MetricsHandler
}

// NewRouter wires middleware and routes. Reads are public; writes require an
// ADMIN token when auth is enabled.
func NewRouter(cfg RouterConfig, h Handlers, tokens middleware.TokenValidator, requests middleware.RequestObserver, logr *zap.Logger) *gin.Engine {
	if logr == nil {
		logr = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(requests))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.UploadsPrefix != "" && cfg.UploadsDir != "" {
		r.Static(cfg.UploadsPrefix, cfg.UploadsDir)
	}
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	guard := []gin.HandlerFunc{}
	if cfg.EnableAuth && tokens != nil {
		guard = append(guard, middleware.JWT(tokens), middleware.RequireRoles(models.RoleAdmin))
		api.POST("/auth/login", h.Auth.Login)
	}

	groups := api.Group("/groups")
	groups.GET("", h.Groups.List)
	groups.GET("/:id", h.Groups.Get)
	writes := groups.Group("", guard...)
	writes.POST("", h.Groups.Create)
	writes.PUT("/:id", h.Groups.Update)
	writes.DELETE("/:id", h.Groups.Delete)

	students := api.Group("/students")
	students.GET("", h.Students.List)
	students.GET("/export", h.Students.Export)
	students.GET("/:id", h.Students.Get)
	studentWrites := students.Group("", guard...)
	studentWrites.POST("", h.Students.Create)
	studentWrites.PUT("/:id", h.Students.Update)
	studentWrites.DELETE("/:id", h.Students.Delete)

	return r
}
