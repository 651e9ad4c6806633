package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/habitflow/notifications/internal/notification"
	"github.com/habitflow/notifications/internal/resilience"
	"github.com/habitflow/notifications/pkg/jsonutil"
)

type apiHandler struct {
	svc    *notification.Service
	logger *slog.Logger
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "active",
		"service": "notifications",
	})
}

func (h *apiHandler) sendNotification(w http.ResponseWriter, r *http.Request) {
	var n notification.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.Send(r.Context(), &n); err != nil {
		h.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusAccepted, &n)
}

func (h *apiHandler) userNotifications(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	list, err := h.svc.UserNotifications(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*notification.Notification{}
	}
	jsonutil.WriteJSON(w, http.StatusOK, list)
}

func (h *apiHandler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var p notification.Preference
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.UserID = mux.Vars(r)["id"]

	if err := h.svc.UpdatePreferences(r.Context(), &p); err != nil {
		h.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, &p)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *apiHandler) writeError(w http.ResponseWriter, err error) {
	var ve *notification.ValidationError
	var de *notification.DeliveryError

	switch {
	case errors.As(err, &ve):
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, notification.ErrRateLimited):
		jsonutil.WriteErrorJSON(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen):
		jsonutil.WriteErrorJSON(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &de):
		jsonutil.WriteErrorJSON(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}
