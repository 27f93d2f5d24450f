package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/internal/auth"
	"github.com/noah-isme/school-admin-api/internal/handler"
	"github.com/noah-isme/school-admin-api/internal/middleware"
	"github.com/noah-isme/school-admin-api/internal/models"
	"github.com/noah-isme/school-admin-api/internal/service"
	"github.com/noah-isme/school-admin-api/pkg/config"
	"github.com/noah-isme/school-admin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/school-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/school-admin-api/pkg/middleware/requestid"
)

type routeHandlers struct {
	reports *handler.ReportHandler
	users   *handler.UserHandler
	roles   *handler.RoleHandler
	auth    *handler.AuthHandler
	metrics *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, resolver *auth.Resolver, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix, middleware.WithResponseMeta(), middleware.Authenticate(resolver))

	api.POST("/auth/sign-out", h.auth.SignOut)

	reports := api.Group("/reports", middleware.RequirePermission(models.PermissionReportsView))
	reports.PUT("/session", h.reports.ActivateSession)
	reports.GET("/session", h.reports.GetSession)
	reports.DELETE("/session", h.reports.DeleteSession)
	reports.GET("/:type", h.reports.Get)
	reports.GET("/:type/export", middleware.RequirePermission(models.PermissionReportsExport), h.reports.Export)

	users := api.Group("/users", middleware.RequirePermission(models.PermissionUsersManage))
	users.GET("", h.users.List)
	users.POST("", h.users.Create)
	users.GET("/:id", h.users.Get)
	users.PUT("/:id", h.users.Update)
	users.DELETE("/:id", h.users.Delete)
	users.PUT("/:id/roles", h.users.SetRoles)
	users.POST("/:id/roles/:roleId", h.users.AssignRole)
	users.DELETE("/:id/roles/:roleId", h.users.RevokeRole)
	users.GET("/:id/permissions", h.users.Permissions)

	roles := api.Group("/roles", middleware.RequirePermission(models.PermissionRolesManage))
	roles.GET("", h.roles.List)
	roles.POST("", h.roles.Create)
	roles.DELETE("/:id", h.roles.Delete)
	roles.GET("/:id/permissions", h.roles.Permissions)
	roles.POST("/:id/permissions/:permissionId/toggle", h.roles.TogglePermission)

	api.GET("/permissions", middleware.RequirePermission(models.PermissionRolesManage), h.roles.ListPermissions)

	return r
}
