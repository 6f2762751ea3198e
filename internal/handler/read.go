package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kevin101681/cascadeconnect-sub000/internal/broadcast"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
	"github.com/kevin101681/cascadeconnect-sub000/internal/middleware"
	"github.com/kevin101681/cascadeconnect-sub000/internal/repository"
)

type ReadHandler struct {
	readRepo    *repository.ReadStateRepository
	channelRepo *repository.ChannelRepository
	broker      broadcast.Broker
}

func NewReadHandler(
	readRepo *repository.ReadStateRepository,
	channelRepo *repository.ChannelRepository,
	broker broadcast.Broker,
) *ReadHandler {
	return &ReadHandler{readRepo: readRepo, channelRepo: channelRepo, broker: broker}
}

// MarkRead advances the caller's read marker for a channel to now and
// announces it on the channel topic so the caller's other devices can
// clear their badges. The marker never moves backwards.
func (h *ReadHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	ref := middleware.GetRef(r.Context())

	isMember, err := h.channelRepo.IsParticipant(r.Context(), channelID, ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	if err := h.readRepo.MarkRead(r.Context(), ref, channelID, time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}

	ev := broadcast.Event{
		ChannelID: channelID,
		Type:      broadcast.EventChannelRead,
		ReaderRef: ref,
	}
	if err := h.broker.Publish(r.Context(), broadcast.TopicForChannel(channelID), ev); err != nil {
		logger.Errorf("read publish channel=%s: %v", channelID, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetUnread returns per-channel unread counts plus the total for the
// caller's global badge.
func (h *ReadHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())

	byChannel, err := h.readRepo.UnreadByChannel(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	total := 0
	for _, n := range byChannel {
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channels": byChannel,
		"total":    total,
	})
}
