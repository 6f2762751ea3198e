package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/kevin101681/cascadeconnect-sub000/internal/broadcast"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
	"github.com/kevin101681/cascadeconnect-sub000/internal/middleware"
	"github.com/kevin101681/cascadeconnect-sub000/internal/repository"
	"github.com/kevin101681/cascadeconnect-sub000/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	broker         broadcast.Broker
	channelRepo    *repository.ChannelRepository
	allowedOrigins string
}

// NewWSHandler creates the WebSocket endpoint. allowedOrigins matches the
// CORS setting (comma separated, or "*").
func NewWSHandler(hub *ws.Hub, broker broadcast.Broker, channelRepo *repository.ChannelRepository, allowedOrigins string) *WSHandler {
	return &WSHandler{
		hub:            hub,
		broker:         broker,
		channelRepo:    channelRepo,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the connection, opens a broker subscription and binds
// it to every channel the caller participates in, so a reconnecting
// client starts receiving events before it issues any explicit bind.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())
	if ref == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	sub, err := h.broker.Subscribe(r.Context())
	if err != nil {
		logger.Errorf("ws subscribe ref=%s: %v", ref, err)
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, sub, ref)

	channels, err := h.channelRepo.ListFor(ctx, ref)
	if err != nil {
		logger.Errorf("ws list channels ref=%s: %v", ref, err)
	} else {
		ids := make([]string, len(channels))
		for i := range channels {
			ids[i] = channels[i].ID
		}
		if err := client.BindChannels(ctx, ids); err != nil {
			logger.Errorf("ws bind channels ref=%s: %v", ref, err)
		}
	}

	client.Start(ctx, cancel)
	h.hub.Register(client)
}
