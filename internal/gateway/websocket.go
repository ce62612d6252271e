// ABOUTME: WebSocket transport for live subscriptions (sentMessage, hasUpdateConversation)
// ABOUTME: One reader and one writer goroutine per socket feeding a per-connection subscription router

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"google.golang.org/grpc/codes"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/subscription"
)

// Client frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
)

// Server frame types.
const (
	frameAck   = "ack"
	frameNext  = "next"
	frameError = "error"
	framePong  = "pong"
)

// clientFrame is a message received from a subscriber.
type clientFrame struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	Topic          string `json:"topic,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// serverFrame is a message sent to a subscriber.
type serverFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *apperr.Payload `json:"error,omitempty"`
}

// wsConn is one live subscription socket.
type wsConn struct {
	gw       *Gateway
	ws       *websocket.Conn
	identity *auth.Identity
	router   *subscription.Router
	logger   *slog.Logger

	// send is never closed; writeLoop exits on ctx instead.
	send chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (g *Gateway) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	// With no allow-list gorilla's same-origin check applies.
	if allowed := g.config.WebSocket.AllowedOrigins; len(allowed) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || lo.Contains(allowed, "*") || lo.Contains(allowed, origin)
		}
	}
	return u
}

// handleSubscriptions upgrades GET /api/subscriptions. The identity gate has
// already run, so an unauthenticated upgrade never reaches this point.
func (g *Gateway) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	ws, err := g.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		g.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	// The request context ends when this handler returns, so the connection
	// gets its own.
	ctx, cancel := context.WithCancel(auth.WithIdentity(context.Background(), identity))
	c := &wsConn{
		gw:       g,
		ws:       ws,
		identity: identity,
		logger:   g.logger.With("identity", identity.ID, "remote_addr", r.RemoteAddr),
		send:     make(chan []byte, g.config.WebSocket.SendQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.router = subscription.NewRouter(ctx, identity.ID, g.bus, g.conversations.Authority(), c.deliver, g.logger)

	g.trackConn(c)
	c.logger.Info("websocket session started")

	go c.writeLoop()
	go c.readLoop()
}

// close tears the connection down exactly once: subscriptions first, then the socket.
func (c *wsConn) close() {
	c.closeWith(websocket.CloseGoingAway, "")
}

func (c *wsConn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.router.Close()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(c.gw.config.WebSocket.WriteWait))
		_ = c.ws.Close()
		c.gw.untrackConn(c)
		c.logger.Info("websocket session closed")
	})
}

func (c *wsConn) readLoop() {
	defer c.close()

	cfg := c.gw.config.WebSocket
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *wsConn) writeLoop() {
	cfg := c.gw.config.WebSocket
	ticker := time.NewTicker(cfg.PingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		c.close()
	}()

	// The session lives no longer than the token it was opened with.
	var expired <-chan time.Time
	if exp := c.identity.ExpiresAt; !exp.IsZero() {
		timer := time.NewTimer(time.Until(exp))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return

		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					c.logger.Warn("websocket write failed", "error", err)
				}
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping failed", "error", err)
				return
			}

		case <-expired:
			c.logger.Info("token expired, closing websocket session")
			payload := apperr.Unauthenticated("token expired").Payload()
			if data, err := json.Marshal(serverFrame{Type: frameError, Error: &payload}); err == nil {
				_ = c.write(websocket.TextMessage, data)
			}
			c.closeWith(websocket.ClosePolicyViolation, "token expired")
			return
		}
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.config.WebSocket.WriteWait))
	return c.ws.WriteMessage(messageType, data)
}

// enqueue never blocks. It reports false when the frame was dropped.
func (c *wsConn) enqueue(frame serverFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("encoding websocket frame", "type", frame.Type, "error", err)
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("outbound queue full, dropping frame", "type", frame.Type, "id", frame.ID)
		return false
	}
}

// deliver is the router's sink.
func (c *wsConn) deliver(d subscription.Delivery) bool {
	return c.enqueue(serverFrame{Type: frameNext, ID: d.ID, Payload: d.Payload})
}

func (c *wsConn) replyError(id, operation string, err error) {
	if apperr.CodeOf(err) == codes.Internal {
		c.logger.Error("subscription request failed", "operation", operation, "error", err)
	}
	e := apperr.From(err)
	c.gw.metrics.ObserveRequest(operation, e.WireCode())
	payload := e.Payload()
	c.enqueue(serverFrame{Type: frameError, ID: id, Error: &payload})
}

func (c *wsConn) dispatch(raw []byte) {
	var f clientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.replyError("", "frame", apperr.InvalidArgument("malformed frame"))
		return
	}

	switch f.Type {
	case frameSubscribe:
		kind := subscription.Kind(f.Topic)
		ack := func() { c.enqueue(serverFrame{Type: frameAck, ID: f.ID}) }
		if err := c.router.Add(f.ID, kind, subscription.Args{ConversationID: f.ConversationID}, ack); err != nil {
			c.replyError(f.ID, frameSubscribe, err)
			return
		}
		c.gw.metrics.ObserveRequest(frameSubscribe, "OK")

	case frameUnsubscribe:
		if err := c.router.Remove(f.ID); err != nil {
			c.replyError(f.ID, frameUnsubscribe, err)
			return
		}
		c.enqueue(serverFrame{Type: frameAck, ID: f.ID})

	case framePing:
		c.enqueue(serverFrame{Type: framePong})

	default:
		c.replyError(f.ID, "frame", apperr.InvalidArgument("unknown frame type %q", f.Type))
	}
}
