package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kevin101681/cascadeconnect-sub000/internal/broadcast"
	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
	"github.com/kevin101681/cascadeconnect-sub000/internal/middleware"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
	"github.com/kevin101681/cascadeconnect-sub000/internal/notify"
	"github.com/kevin101681/cascadeconnect-sub000/internal/repository"
	"github.com/kevin101681/cascadeconnect-sub000/internal/ws"
)

const (
	maxContentLen      = 4000
	defaultPageSize    = 50
	maxPageSize        = 100
	notifyBodyPreview  = 120
	notifySendDeadline = 15 * time.Second
)

type MessageHandler struct {
	msgRepo     *repository.MessageRepository
	channelRepo *repository.ChannelRepository
	broker      broadcast.Broker
	hub         *ws.Hub
	notifier    *notify.Notifier
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	channelRepo *repository.ChannelRepository,
	broker broadcast.Broker,
	hub *ws.Hub,
	notifier *notify.Notifier,
) *MessageHandler {
	return &MessageHandler{
		msgRepo:     msgRepo,
		channelRepo: channelRepo,
		broker:      broker,
		hub:         hub,
		notifier:    notifier,
	}
}

// SendMessage persists a message and then publishes it to the channel
// topic. The persisted record is the response body either way: a publish
// failure only degrades liveness, clients pick the message up on the next
// backlog fetch.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		Content     string             `json:"content"`
		ReplyToID   *string            `json:"reply_to_id,omitempty"`
		Attachments []model.Attachment `json:"attachments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	if len(req.Content) > maxContentLen {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	msg, err := h.msgRepo.Append(r.Context(), repository.AppendParams{
		ChannelID:   channelID,
		Sender:      ref,
		Content:     req.Content,
		ReplyToID:   req.ReplyToID,
		Attachments: req.Attachments,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "channel not found")
		case errors.Is(err, identity.ErrUnknownIdentity):
			writeError(w, http.StatusUnauthorized, "unknown sender")
		case errors.Is(err, repository.ErrInvalidReply):
			writeError(w, http.StatusUnprocessableEntity, "reply target not in this channel")
		default:
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	ev := broadcast.Event{
		ChannelID: channelID,
		Type:      broadcast.EventMessageCreated,
		Message:   msg,
	}
	if err := h.broker.Publish(r.Context(), broadcast.TopicForChannel(channelID), ev); err != nil {
		logger.Errorf("message publish channel=%s: %v", channelID, err)
	}

	go h.notifyOffline(channelID, msg)

	writeJSON(w, http.StatusCreated, msg)
}

// notifyOffline sends a Web Push to participants with no live connection.
// Runs detached from the request: push latency must not hold the response.
func (h *MessageHandler) notifyOffline(channelID string, msg *model.Message) {
	if h.notifier == nil || !h.notifier.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifySendDeadline)
	defer cancel()

	refs, err := h.channelRepo.ParticipantRefs(ctx, channelID)
	if err != nil {
		logger.Errorf("notify participants channel=%s: %v", channelID, err)
		return
	}

	title := "New message"
	if msg.Sender != nil && msg.Sender.DisplayName != "" {
		title = msg.Sender.DisplayName
	}
	body := msg.Content
	if len(body) > notifyBodyPreview {
		body = body[:notifyBodyPreview]
	}
	payload := notify.Payload{
		Title: title,
		Body:  body,
		Data:  map[string]string{"channel_id": channelID, "message_id": msg.ID},
	}

	for _, ref := range refs {
		if ref == msg.SenderRef || h.hub.Connected(ref) {
			continue
		}
		h.notifier.Notify(ctx, ref, payload)
	}
}

// ListMessages returns a page of channel messages in store order, walking
// backwards from the before cursor (a message id) or from the newest
// message when absent. The page itself is ascending.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
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

	limit := queryInt(r, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	beforeID := r.URL.Query().Get("before")

	messages, err := h.msgRepo.ListByChannel(r.Context(), channelID, beforeID, limit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, messages)
}
