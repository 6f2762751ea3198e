package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kevin101681/cascadeconnect-sub000/internal/middleware"
	"github.com/kevin101681/cascadeconnect-sub000/internal/notify"
)

type PushHandler struct {
	notifier *notify.Notifier
}

func NewPushHandler(notifier *notify.Notifier) *PushHandler {
	return &PushHandler{notifier: notifier}
}

// VAPIDPublicKey hands the browser the key it needs for
// PushManager.subscribe.
func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	key := h.notifier.PublicKey()
	if key == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(key))
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())

	var sub notify.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.notifier.Subscribe(r.Context(), ref, sub); err != nil {
		if errors.Is(err, notify.ErrInvalidSubscription) {
			writeError(w, http.StatusBadRequest, "endpoint and keys required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.notifier.Unsubscribe(r.Context(), ref, req.Endpoint); err != nil {
		if errors.Is(err, notify.ErrInvalidSubscription) {
			writeError(w, http.StatusBadRequest, "endpoint required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
