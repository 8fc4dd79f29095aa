package account

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/pkg/response"
)

type connectRequest struct {
	BrandID      string     `json:"brand_id" binding:"required"`
	Platform     string     `json:"platform" binding:"required,oneof=INSTAGRAM FACEBOOK"`
	ExternalID   string     `json:"external_id" binding:"required"`
	Username     string     `json:"username"`
	AccessToken  string     `json:"access_token" binding:"required"`
	RefreshToken string     `json:"refresh_token"`
	TokenExpiry  *time.Time `json:"token_expiry"`
	Scope        string     `json:"scope"`
	TokenType    string     `json:"token_type"`
}

// RegisterRoutes mounts the social account endpoints.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	ws := rg.Group("/workspaces/:workspaceId")

	ws.GET("/accounts", func(c *gin.Context) {
		accounts, err := svc.List(c.Request.Context(), c.Param("workspaceId"), c.Query("brand_id"))
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.OK(c, accounts)
	})

	ws.GET("/accounts/:id", func(c *gin.Context) {
		account, err := svc.Get(c.Request.Context(), c.Param("workspaceId"), c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				response.NotFound(c)
				return
			}
			response.InternalError(c, err)
			return
		}
		response.OK(c, account)
	})

	ws.POST("/accounts", func(c *gin.Context) {
		var req connectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := svc.Connect(c.Request.Context(), ConnectInput{
			WorkspaceID:  c.Param("workspaceId"),
			BrandID:      req.BrandID,
			Platform:     models.Platform(req.Platform),
			ExternalID:   req.ExternalID,
			Username:     req.Username,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			TokenExpiry:  req.TokenExpiry,
			Scope:        req.Scope,
			TokenType:    req.TokenType,
		})
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.Created(c, account)
	})

	ws.DELETE("/accounts/:id", func(c *gin.Context) {
		err := svc.Disconnect(c.Request.Context(), c.Param("workspaceId"), c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				response.NotFound(c)
				return
			}
			response.InternalError(c, err)
			return
		}
		response.NoContent(c)
	})
}
