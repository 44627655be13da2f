package main

import (
	"net/http"

	"crm-platform/internal/app"
	"crm-platform/internal/httpapi"
	"crm-platform/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerPublicRoutes wires liveness and metrics.
func registerPublicRoutes(r *gin.Engine, a *app.App) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := a.Healthy(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerProtectedRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireAgent())

	leadsGroup := v1.Group("/leads")
	{
		leadsGroup.POST("/fetch", h.Fetch)
		leadsGroup.POST("/recycled/fetch", h.FetchRecycled)
		leadsGroup.GET("/recycled/stats", h.RecycledStats)
		leadsGroup.GET("/recycled/mine", h.ListMyRecycled)
		leadsGroup.POST("/:id/response", h.ChangeResponse)
	}

	assignments := v1.Group("/assignments")
	{
		assignments.GET("/mine", h.ListMine)
		assignments.POST("/release", h.ReleaseMany)
		assignments.DELETE("/:id", h.Release)
	}

	// ADMIN routes
	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.Admins...))
	{
		configs := admin.Group("/fetch-configs")
		configs.GET("", h.ListFetchConfigs)
		configs.POST("", h.CreateFetchConfig)
		configs.GET("/resolve", h.ResolveFetchConfig)
		configs.GET("/:id", h.GetFetchConfig)
		configs.PUT("/:id", h.UpdateFetchConfig)
		configs.DELETE("/:id", h.DeleteFetchConfig)

		admin.GET("/lead-stats", h.LeadStats)

		// SUPERADMIN only; RequireAnyRole with no roles admits nobody else
		ops := admin.Group("/maintenance", rbac.RequireAnyRole())
		ops.GET("", h.MaintenanceStatus)
		ops.POST("/:job", h.RunMaintenance)
	}
}
