package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/lib/auth"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

const (
	DefaultSendQueue = 256
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

// Client frames and their replies.
const (
	eventJoinChain  = "join-chain"
	eventLeaveChain = "leave-chain"

	topicJoinedChain model.Topic = "joined-chain"
	topicLeftChain   model.Topic = "left-chain"
	topicError       model.Topic = "error"
)

type clientFrame struct {
	Event string `json:"event"`
	Chain string `json:"chain"`
}

type client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	authenticated bool

	// chains is guarded by Hub.mu. Empty means every chain.
	chains map[string]struct{}
}

func (c *client) wants(msg model.Message) bool {
	if msg.Audience == model.AudienceAuthenticated && !c.authenticated {
		return false
	}
	if msg.Audience != model.AudienceAuthenticated || msg.Chain == "" || len(c.chains) == 0 {
		return true
	}
	_, ok := c.chains[msg.Chain]
	return ok
}

// Hub fans messages out to websocket subscribers. Public messages reach every
// client, authenticated ones only clients that presented a valid token.
// An authenticated client that joined chain rooms only gets authenticated
// messages for those chains.
// Each client has its own bounded queue; a full queue drops for that client only.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	upgrader  websocket.Upgrader
	verifier  useCases.TokenVerifier
	queueSize int
	log       *slog.Logger
}

var _ useCases.Broadcaster = (*Hub)(nil)

// NewHub creates a hub. With a nil verifier every client counts as authenticated.
func NewHub(log *slog.Logger, verifier useCases.TokenVerifier, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	return &Hub{
		clients:   make(map[*client]struct{}),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		verifier:  verifier,
		queueSize: queueSize,
		log:       log.With(slog.String("component", "ws_hub")),
	}
}

// Publish enqueues msg on every eligible client without blocking.
func (h *Hub) Publish(ctx context.Context, msg model.Message) error {
	data, err := sonnet.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Topic, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Debug("client queue full, dropping message",
				slog.String("client", c.id),
				slog.String("topic", string(msg.Topic)),
			)
		}
	}
	return nil
}

// Clients reports connected and authenticated client counts.
func (h *Hub) Clients() (total, authenticated int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		total++
		if c.authenticated {
			authenticated++
		}
	}
	return total, authenticated
}

// Handler returns an http.HandlerFunc to accept websocket connections.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		authenticated := h.verifier == nil || h.verifier.Verify(token)

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", sl.Err(err))
			return
		}

		c := &client{
			id:            uuid.NewString(),
			conn:          conn,
			send:          make(chan []byte, h.queueSize),
			authenticated: authenticated,
			chains:        make(map[string]struct{}),
		}
		ack, err := sonnet.Marshal(model.Message{
			Topic:     model.TopicConnectionAck,
			Payload:   map[string]any{"clientId": c.id, "authenticated": authenticated},
			Timestamp: time.Now(),
		})
		if err == nil {
			c.send <- ack
		}
		h.register(c)

		go h.writeLoop(c)
		go h.readLoop(c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client connected", slog.String("client", c.id), slog.Bool("authenticated", c.authenticated), slog.Int("clients", n))
}

// unregister removes c and closes its queue exactly once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Info("client disconnected", slog.String("client", c.id), slog.Int("clients", n))
	}
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(c, data)
	}
}

func (h *Hub) handleFrame(c *client, data []byte) {
	var f clientFrame
	if err := sonnet.Unmarshal(data, &f); err != nil {
		h.log.Debug("ignoring malformed client frame", slog.String("client", c.id), sl.Err(err))
		return
	}
	if f.Event != eventJoinChain && f.Event != eventLeaveChain {
		return
	}
	if !c.authenticated {
		h.reply(c, topicError, map[string]string{"message": "authentication required for chain rooms"})
		return
	}
	chain := strings.ToUpper(strings.TrimSpace(f.Chain))
	if chain == "" {
		h.reply(c, topicError, map[string]string{"message": "chain is required"})
		return
	}

	topic := topicJoinedChain
	h.mu.Lock()
	if f.Event == eventJoinChain {
		c.chains[chain] = struct{}{}
	} else {
		delete(c.chains, chain)
		topic = topicLeftChain
	}
	h.mu.Unlock()

	h.log.Debug("chain room changed", slog.String("client", c.id), slog.String("event", f.Event), slog.String("chain", chain))
	h.reply(c, topic, map[string]string{"chain": chain})
}

// reply enqueues a frame for c alone if it is still registered.
func (h *Hub) reply(c *client, topic model.Topic, payload any) {
	data, err := sonnet.Marshal(model.Message{Topic: topic, Payload: payload, Timestamp: time.Now()})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("websocket write failed", slog.String("client", c.id), sl.Err(err))
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
