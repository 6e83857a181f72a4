package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/reconcile"
)

// ListNotifications returns the feed, newest first, with the unread count.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list := h.feed.List()
	if list == nil {
		list = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"unread":        h.feed.UnreadCount(),
	})
}

// MarkNotificationRead marks one notification read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.MarkRead(chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotificationsRead marks the whole feed read.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	h.feed.MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

// RemoveNotification dismisses one notification.
func (h *Handler) RemoveNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.Remove(chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "remove notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearNotifications dismisses the whole feed.
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	h.feed.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ListSyncErrors returns recent remote write failures.
func (h *Handler) ListSyncErrors(w http.ResponseWriter, r *http.Request) {
	errs := h.engine.SyncErrors()
	if errs == nil {
		errs = []reconcile.SyncError{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"errors": errs})
}

// ClearSyncErrors empties the sync error list.
func (h *Handler) ClearSyncErrors(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearSyncErrors()
	w.WriteHeader(http.StatusNoContent)
}
