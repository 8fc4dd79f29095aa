package publish

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/publora/core/internal/middleware"
	"github.com/publora/core/internal/pkg/response"
)

type scheduleRequest struct {
	SocialAccountID string          `json:"social_account_id" binding:"required"`
	ContentID       *string         `json:"content_id"`
	ScheduledAt     *time.Time      `json:"scheduled_at"`
	ClientRequestID *string         `json:"client_request_id"`
	Payload         json.RawMessage `json:"payload" binding:"required"`
}

// RegisterRoutes mounts the publication endpoints.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	brand := rg.Group("/workspaces/:workspaceId/brands/:brandId")

	brand.POST("/publications/instagram", func(c *gin.Context) {
		req, in, ok := bindSchedule(c)
		if !ok {
			return
		}
		var payload InstagramPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			response.BadRequest(c, "malformed payload")
			return
		}
		pub, created, err := svc.ScheduleInstagram(c.Request.Context(), in, payload)
		respondSchedule(c, pub, created, err)
	})

	brand.POST("/publications/facebook", func(c *gin.Context) {
		req, in, ok := bindSchedule(c)
		if !ok {
			return
		}
		var payload FacebookPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			response.BadRequest(c, "malformed payload")
			return
		}
		pub, created, err := svc.ScheduleFacebook(c.Request.Context(), in, payload)
		respondSchedule(c, pub, created, err)
	})

	brand.GET("/publications", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		items, next, err := svc.List(c.Request.Context(),
			c.Param("workspaceId"), c.Param("brandId"), c.Query("cursor"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		response.Cursor(c, items, next)
	})

	ws := rg.Group("/workspaces/:workspaceId")

	ws.GET("/publications/:id", func(c *gin.Context) {
		pub, err := svc.Get(c.Request.Context(), c.Param("workspaceId"), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, pub)
	})

	ws.POST("/publications/:id/cancel", func(c *gin.Context) {
		pub, err := svc.Cancel(c.Request.Context(),
			c.Param("workspaceId"), c.Param("id"), middleware.CurrentUserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, pub)
	})
}

func bindSchedule(c *gin.Context) (*scheduleRequest, ScheduleInput, bool) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return nil, ScheduleInput{}, false
	}

	in := ScheduleInput{
		WorkspaceID:     c.Param("workspaceId"),
		BrandID:         c.Param("brandId"),
		ActorUserID:     middleware.CurrentUserID(c),
		SocialAccountID: req.SocialAccountID,
		ContentID:       req.ContentID,
		ScheduledAt:     req.ScheduledAt,
		ClientRequestID: req.ClientRequestID,
	}
	return &req, in, true
}

func respondSchedule(c *gin.Context, pub interface{}, created bool, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	if created {
		response.Created(c, pub)
		return
	}
	// Idempotent replay returns the original row.
	response.OK(c, pub)
}

func respondError(c *gin.Context, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		response.UnprocessableEntity(c, vErr.Reason)
	case errors.Is(err, ErrBrandNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrPublicationNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, ErrAccountBrandMismatch),
		errors.Is(err, ErrPlatformMismatch),
		errors.Is(err, ErrAccountNotActive):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, ErrNotCancellable):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
