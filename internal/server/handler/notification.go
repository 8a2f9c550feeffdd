package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/resale/internal/domain"
)

// NotificationHandler serves the caller's notification inbox.
type NotificationHandler struct {
	notifications domain.NotificationStore
	logger        *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notifications domain.NotificationStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

type listNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

// ListNotifications returns the caller's notifications, newest first.
// GET /api/notifications?limit=50&offset=0
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r, "")
	if err != nil {
		writeServiceError(w, r, h.logger, "list notifications", err)
		return
	}
	ns, err := h.notifications.ListByRecipient(r.Context(), actor.UserID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list notifications", err)
		return
	}
	if ns == nil {
		ns = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, listNotificationsResponse{Notifications: ns})
}
