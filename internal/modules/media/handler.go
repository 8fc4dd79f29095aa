package media

import (
	"github.com/gin-gonic/gin"
	"github.com/publora/core/internal/pkg/response"
)

type uploadURLRequest struct {
	Key         string `json:"key" binding:"required"`
	ContentType string `json:"content_type"`
}

// RegisterRoutes mounts the upload-url endpoint.
func RegisterRoutes(rg *gin.RouterGroup, resolver *S3Resolver) {
	rg.POST("/media/upload-url", func(c *gin.Context) {
		var req uploadURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		url, err := resolver.UploadURL(c.Request.Context(), req.Key, req.ContentType)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.OK(c, gin.H{"url": url, "key": req.Key})
	})
}
