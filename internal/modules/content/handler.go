package content

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/publora/core/internal/pkg/pagination"
	"github.com/publora/core/internal/pkg/response"
)

// RegisterRoutes mounts the content status endpoints.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.GET("/workspaces/:workspaceId/contents/:id", func(c *gin.Context) {
		view, err := svc.Get(c.Request.Context(), c.Param("workspaceId"), c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrContentNotFound) {
				response.NotFound(c)
				return
			}
			response.InternalError(c, err)
			return
		}
		response.OK(c, view)
	})

	rg.GET("/workspaces/:workspaceId/brands/:brandId/contents", func(c *gin.Context) {
		views, meta, err := svc.ListByBrand(c.Request.Context(),
			c.Param("workspaceId"), c.Param("brandId"), pagination.FromContext(c))
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.Paged(c, views, meta)
	})
}
