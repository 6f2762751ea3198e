package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kevin101681/cascadeconnect-sub000/internal/broadcast"
	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// bufPool pools bytes.Buffer for JSON encoding in the hot path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// bindRequest is the only thing clients send over the socket: topic
// subscription changes as channel views open and close.
type bindRequest struct {
	Action    string `json:"action"` // "bind" | "unbind"
	ChannelID string `json:"channel_id"`
}

// Client is a single WebSocket connection with its own broker subscription.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] ->
// Close -> Wait.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	sub  broadcast.Subscription
	ref  identity.Ref

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, sub broadcast.Subscription, ref identity.Ref) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		sub:  sub,
		ref:  ref,
		done: make(chan struct{}),
	}
}

// Start launches both pumps with controlled lifecycle. ctx controls pump
// lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any
// goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		if err := c.sub.Close(); err != nil {
			logger.Errorf("ws close subscription ref=%s: %v", c.ref, err)
		}
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// readPump reads bind/unbind requests from the socket. Membership is
// checked before binding: a client can only subscribe to channels it
// participates in.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline ref=%s: %v", c.ref, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error ref=%s: %v", c.ref, err)
			}
			return
		}

		var req bindRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			logger.Errorf("ws unmarshal error ref=%s: %v", c.ref, err)
			continue
		}
		c.handleBind(ctx, req)
	}
}

func (c *Client) handleBind(ctx context.Context, req bindRequest) {
	if req.ChannelID == "" {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	topic := broadcast.TopicForChannel(req.ChannelID)
	switch req.Action {
	case "bind":
		isMember, err := c.hub.channelRepo.IsParticipant(reqCtx, req.ChannelID, c.ref)
		if err != nil {
			logger.Errorf("ws bind membership channel=%s ref=%s: %v", req.ChannelID, c.ref, err)
			return
		}
		if !isMember {
			return
		}
		if err := c.sub.Bind(reqCtx, topic); err != nil {
			logger.Errorf("ws bind topic=%s ref=%s: %v", topic, c.ref, err)
		}
	case "unbind":
		if err := c.sub.Unbind(reqCtx, topic); err != nil {
			logger.Errorf("ws unbind topic=%s ref=%s: %v", topic, c.ref, err)
		}
	}
}

// BindChannels subscribes the client to the topics of the given channel
// ids. Called once at connect time with the channels the user participates
// in, so reconnecting clients receive events without an explicit bind per
// channel.
func (c *Client) BindChannels(ctx context.Context, channelIDs []string) error {
	topics := make([]string, len(channelIDs))
	for i, id := range channelIDs {
		topics[i] = broadcast.TopicForChannel(id)
	}
	return c.sub.Bind(ctx, topics...)
}

// writePump forwards subscription events to the socket and keeps the
// connection alive with pings.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message ref=%s: %v", c.ref, err)
			}
			return
		case ev, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline ref=%s: %v", c.ref, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(ev); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error ref=%s: %v", c.ref, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline ref=%s: %v", c.ref, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
