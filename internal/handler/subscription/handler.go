package subscription

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/peoli-api/internal/handler"
	"github.com/jwalitptl/peoli-api/internal/middleware"
	"github.com/jwalitptl/peoli-api/internal/model"
	subscriptionService "github.com/jwalitptl/peoli-api/internal/service/subscription"
	"github.com/jwalitptl/peoli-api/pkg/errors"
	"github.com/jwalitptl/peoli-api/pkg/httputil"
)

type Handler struct {
	service subscriptionService.SubscriptionServicer
}

func NewHandler(service subscriptionService.SubscriptionServicer) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the routes a browser needs before it can subscribe.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/push-subscription/vapid-public-key", h.VAPIDPublicKey)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, limit ...gin.HandlerFunc) {
	subs := r.Group("/push-subscription")
	{
		subs.POST("", h.Subscribe)
		subs.DELETE("", h.Unsubscribe)
		subs.GET("", h.List)
		subs.POST("/test-notification", append(append([]gin.HandlerFunc{}, limit...), h.SendTest)...)
	}
}

type subscriptionKeys struct {
	P256dh string `json:"p256dh" binding:"required,p256dh"`
	Auth   string `json:"auth" binding:"required,pushauth"`
}

type subscribeRequest struct {
	Endpoint string           `json:"endpoint" binding:"required,pushendpoint"`
	Keys     subscriptionKeys `json:"keys" binding:"required"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *Handler) Subscribe(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondWithBindError(c, err)
		return
	}

	sub := &model.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	created, err := h.service.Register(c.Request.Context(), sub)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	status := http.StatusOK
	message := "subscription updated"
	if created {
		status = http.StatusCreated
		message = "subscription created"
	}
	httputil.RespondWithSuccess(c, status, gin.H{
		"message":      message,
		"subscription": sub,
	})
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondWithBindError(c, err)
		return
	}

	if err := h.service.Unregister(c.Request.Context(), userID, req.Endpoint); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"message": "subscription removed"})
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	subs, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if subs == nil {
		subs = []*model.PushSubscription{}
	}

	httputil.RespondWithSuccess(c, http.StatusOK, subs)
}

func (h *Handler) SendTest(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	n, count, err := h.service.SendTest(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusAccepted, gin.H{
		"message":            "test notification queued",
		"notificationId":     n.ID,
		"subscriptionsCount": count,
	})
}

func (h *Handler) VAPIDPublicKey(c *gin.Context) {
	key := h.service.VAPIDPublicKey()
	if key == "" {
		httputil.RespondWithError(c, &errors.AppError{
			Code:    errors.ErrNotFound,
			Message: "push notifications are not configured",
		})
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"publicKey": key})
}

func (h *Handler) userID(c *gin.Context) (int64, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
	}
	return userID, ok
}
