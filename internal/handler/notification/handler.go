package notification

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/peoli-api/internal/handler"
	"github.com/jwalitptl/peoli-api/internal/middleware"
	"github.com/jwalitptl/peoli-api/internal/model"
	notificationService "github.com/jwalitptl/peoli-api/internal/service/notification"
	"github.com/jwalitptl/peoli-api/pkg/errors"
	"github.com/jwalitptl/peoli-api/pkg/httputil"
)

type Handler struct {
	service notificationService.NotificationServicer
}

func NewHandler(service notificationService.NotificationServicer) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the notification routes. limit guards the endpoints
// that create rows.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, limit ...gin.HandlerFunc) {
	limited := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, limit...), fn)
	}

	notifications := r.Group("/notifications")
	{
		notifications.POST("/schedule/rest", limited(h.ScheduleRest)...)
		notifications.POST("/schedule/finish-reminder", limited(h.ScheduleFinishReminder)...)
		notifications.POST("/cancel-rest", h.CancelRest)
		notifications.POST("/cancel-all", h.CancelAll)
		notifications.GET("", h.List)
		notifications.GET("/:id", h.Get)
		notifications.POST("/:id/cancel", h.Cancel)
		notifications.GET("/:id/deliveries", h.ListDeliveries)
	}
}

type scheduleRestRequest struct {
	DurationInSeconds int           `json:"durationInSeconds" binding:"required,gt=0"`
	Data              model.JSONMap `json:"data"`
}

type scheduleReminderRequest struct {
	Data model.JSONMap `json:"data"`
}

type scheduledResponse struct {
	Message        string `json:"message"`
	NotificationID int64  `json:"notificationId"`
}

type countResponse struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

func (h *Handler) ScheduleRest(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req scheduleRestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondWithBindError(c, err)
		return
	}

	n, err := h.service.ScheduleRest(c.Request.Context(), userID, req.DurationInSeconds, req.Data)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, scheduledResponse{
		Message:        "rest notification scheduled",
		NotificationID: n.ID,
	})
}

func (h *Handler) ScheduleFinishReminder(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	// the body is optional
	var req scheduleReminderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handler.RespondWithBindError(c, err)
			return
		}
	}

	n, err := h.service.ScheduleFinishReminder(c.Request.Context(), userID, req.Data)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, scheduledResponse{
		Message:        "finish reminder scheduled",
		NotificationID: n.ID,
	})
}

func (h *Handler) Cancel(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	id, ok := notificationID(c)
	if !ok {
		return
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), id, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"success": cancelled})
}

func (h *Handler) CancelRest(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	count, err := h.service.CancelAllPendingOfKind(c.Request.Context(), userID, model.NotificationKindRest)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, countResponse{
		Message: "pending rest notifications cancelled",
		Count:   count,
	})
}

func (h *Handler) CancelAll(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	count, err := h.service.CancelAllPending(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, countResponse{
		Message: "pending notifications cancelled",
		Count:   count,
	})
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	status := model.NotificationStatus(c.Query("status"))
	list, err := h.service.List(c.Request.Context(), userID, status)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if list == nil {
		list = []*model.ScheduledNotification{}
	}

	httputil.RespondWithSuccess(c, http.StatusOK, list)
}

func (h *Handler) Get(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	id, ok := notificationID(c)
	if !ok {
		return
	}

	n, err := h.service.Get(c.Request.Context(), id, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, n)
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	id, ok := notificationID(c)
	if !ok {
		return
	}

	deliveries, err := h.service.ListDeliveries(c.Request.Context(), id, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if deliveries == nil {
		deliveries = []*model.NotificationDelivery{}
	}

	httputil.RespondWithSuccess(c, http.StatusOK, deliveries)
}

func (h *Handler) userID(c *gin.Context) (int64, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
	}
	return userID, ok
}

func notificationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondWithError(c, errors.BadRequest("invalid notification ID", err))
		return 0, false
	}
	return id, true
}
