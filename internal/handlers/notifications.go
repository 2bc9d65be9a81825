package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/suprole/replenishment/internal/platform/httpx"
	"github.com/suprole/replenishment/internal/services"
)

type dispatchRequest struct {
	PoIDs       []string `json:"poIds"`
	RequestedBy string   `json:"requestedBy"`
}

type dispatchResponse struct {
	Success   bool     `json:"success"`
	SentCount int      `json:"sentCount"`
	PoIDs     []string `json:"poIds"`
}

// NotificationHandlers exposes the supplier mail endpoints.
type NotificationHandlers struct {
	notifications services.NotificationService
}

// NewNotificationHandlers constructs a new NotificationHandlers instance.
func NewNotificationHandlers(notifications services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{notifications: notifications}
}

// Routes registers the /notifications endpoints.
func (h *NotificationHandlers) Routes(r chi.Router) {
	r.Post("/request", h.dispatch(services.NotificationRequest))
	r.Post("/delivery", h.dispatch(services.NotificationDelivery))
}

func (h *NotificationHandlers) dispatch(kind services.NotificationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.notifications == nil {
			httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
			return
		}

		var req dispatchRequest
		if status, msg, ok := decodeJSONBody(r, &req); !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", msg, status))
			return
		}

		result, err := h.notifications.Dispatch(ctx, services.DispatchCommand{
			Kind:        kind,
			PoIDs:       req.PoIDs,
			RequestedBy: req.RequestedBy,
		})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		poIDs := result.PoIDs
		if poIDs == nil {
			poIDs = []string{}
		}
		httpx.WriteJSON(w, http.StatusOK, dispatchResponse{Success: result.Success, SentCount: result.SentCount, PoIDs: poIDs})
	}
}
