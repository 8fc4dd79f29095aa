package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/publora/core/internal/middleware"
	"github.com/publora/core/internal/modules/account"
	"github.com/publora/core/internal/modules/activity"
	"github.com/publora/core/internal/modules/content"
	"github.com/publora/core/internal/modules/gateway"
	"github.com/publora/core/internal/modules/media"
	"github.com/publora/core/internal/modules/publish"
	"github.com/publora/core/internal/pkg/response"
)

var processStart = time.Now()

func (a *App) registerRoutes() {
	gateway.RegisterRoutes(a.router.Group(""), a.hub)

	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(processStart).Truncate(time.Second).String(),
		})
	})

	api := a.router.Group("/api/v1")
	api.Use(middleware.RateLimit(a.rc.Raw(), a.logger))

	authed := api.Group("", middleware.Auth(a.db))
	authed.Use(middleware.Idempotence(a.rc.Raw()))

	publish.RegisterRoutes(authed, a.publishSvc)
	content.RegisterRoutes(authed, a.contentSvc)
	account.RegisterRoutes(authed, a.accountSvc)
	activity.RegisterRoutes(authed, a.auditSvc)
	if a.resolver != nil {
		media.RegisterRoutes(authed, a.resolver)
	}

	a.router.NoRoute(func(c *gin.Context) { response.NotFound(c) })
	a.router.NoMethod(func(c *gin.Context) { response.MethodNotAllowed(c) })
}
