package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/middleware"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/response"
)

// NotificationHandler serves the in-app notification read API.
type NotificationHandler struct {
	repo notification.Repository
}

// NewNotificationHandler creates the notification handler.
func NewNotificationHandler(repo notification.Repository) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

// List returns the caller's notifications, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.BadRequest(c, "missing identity")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	unreadOnly := c.Query("unread") == "true"

	items, total, err := h.repo.ListByUser(c.Request.Context(), userID, unreadOnly, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]NotificationDTO, len(items))
	for i, n := range items {
		out[i] = toNotificationDTO(n)
	}
	response.Paginated(c, out, page, limit, total)
}

// MarkRead marks one of the caller's notifications as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.BadRequest(c, "missing identity")
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.repo.MarkRead(c.Request.Context(), userID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"read": true})
}
