package activity

import (
	"github.com/gin-gonic/gin"
	"github.com/publora/core/internal/pkg/pagination"
	"github.com/publora/core/internal/pkg/response"
)

// RegisterRoutes mounts the activity listing under a workspace scope.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.GET("/workspaces/:workspaceId/activities", func(c *gin.Context) {
		filter := Filter{
			ScopeType: c.Query("scope_type"),
			ScopeID:   c.Query("scope_id"),
		}
		items, meta, err := svc.List(c.Request.Context(), c.Param("workspaceId"), filter, pagination.FromContext(c))
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.Paged(c, items, meta)
	})
}
