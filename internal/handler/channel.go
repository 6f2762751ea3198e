package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kevin101681/cascadeconnect-sub000/internal/broadcast"
	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/middleware"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
	"github.com/kevin101681/cascadeconnect-sub000/internal/repository"
)

const maxChannelNameLen = 128

type ChannelHandler struct {
	channelRepo *repository.ChannelRepository
	msgRepo     *repository.MessageRepository
	readRepo    *repository.ReadStateRepository
	resolver    *identity.Resolver
}

func NewChannelHandler(
	channelRepo *repository.ChannelRepository,
	msgRepo *repository.MessageRepository,
	readRepo *repository.ReadStateRepository,
	resolver *identity.Resolver,
) *ChannelHandler {
	return &ChannelHandler{channelRepo: channelRepo, msgRepo: msgRepo, readRepo: readRepo, resolver: resolver}
}

// ListChannels returns every channel the caller participates in, annotated
// with the last message, the unread count and the subscription topic.
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())

	channels, err := h.channelRepo.ListFor(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list channels")
		return
	}

	unread, err := h.readRepo.UnreadByChannel(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}

	summaries := make([]model.ChannelSummary, 0, len(channels))
	for i := range channels {
		ch := channels[i]
		s := model.ChannelSummary{
			Channel:     ch,
			UnreadCount: unread[ch.ID],
			Topic:       broadcast.TopicForChannel(ch.ID),
		}
		last, err := h.msgRepo.GetLastMessage(r.Context(), ch.ID)
		if err == nil {
			s.LastMessage = last
		} else if !errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to load last message")
			return
		}
		summaries = append(summaries, s)
	}

	writeJSON(w, http.StatusOK, summaries)
}

// CreateDirect opens (or finds) the DM channel between the caller and the
// peer named by subject. Calling it twice, or from both sides at once,
// yields the same channel.
func (h *ChannelHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())

	var req struct {
		PeerSubject string `json:"peer_subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.PeerSubject = strings.TrimSpace(req.PeerSubject)
	if req.PeerSubject == "" {
		writeError(w, http.StatusBadRequest, "peer_subject required")
		return
	}

	peer, err := h.resolver.Resolve(r.Context(), req.PeerSubject)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownIdentity) {
			writeError(w, http.StatusNotFound, "unknown peer")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve peer")
		return
	}
	if peer == ref {
		writeError(w, http.StatusBadRequest, "cannot open a direct channel with yourself")
		return
	}

	ch, err := h.channelRepo.FindOrCreateDirect(r.Context(), ref, peer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open direct channel")
		return
	}

	writeJSON(w, http.StatusOK, ch)
}

// CreatePublic creates a named public channel with the caller as its first
// participant.
func (h *ChannelHandler) CreatePublic(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if len(req.Name) > maxChannelNameLen {
		writeError(w, http.StatusBadRequest, "name too long")
		return
	}

	ch, err := h.channelRepo.CreatePublic(r.Context(), req.Name, ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create channel")
		return
	}

	writeJSON(w, http.StatusCreated, ch)
}

// Join adds the caller as a participant of a public channel. DM channels
// have a fixed pair of participants and cannot be joined.
func (h *ChannelHandler) Join(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	ref := middleware.GetRef(r.Context())

	ch, err := h.channelRepo.GetByID(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	if ch.ChannelType != model.ChannelTypePublic {
		writeError(w, http.StatusForbidden, "cannot join a direct channel")
		return
	}

	if err := h.channelRepo.Join(r.Context(), channelID, ref); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to join channel")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetChannel returns one channel with its participants. Callers must be
// participants themselves.
func (h *ChannelHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
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

	ch, err := h.channelRepo.GetByID(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}

	writeJSON(w, http.StatusOK, ch)
}
