package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"docchat/internal/domain"
	"docchat/internal/identity"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

// Handler executes the realtime operations behind the gateway.
type Handler interface {
	Connect(ctx context.Context, req domain.ConnectRequest) (*domain.Connected, error)
	JoinRoom(ctx context.Context, connID string, req domain.JoinRoomRequest) domain.JoinRoomResult
	LeaveRoom(ctx context.Context, connID string, req domain.LeaveRoomRequest) domain.LeaveRoomResult
	SendMessage(ctx context.Context, connID string, req domain.SendMessageRequest) domain.SendResult
	Disconnect(ctx context.Context, connID string)
}

// IdentityResolver recognizes a logged-in caller from the upgrade request.
// A nil identity means anonymous.
type IdentityResolver interface {
	Whoami(ctx context.Context, r *http.Request) (*identity.Identity, error)
}

type GatewayConfig struct {
	Registry        *Registry
	Handler         Handler          // may be set later with SetHandler
	Identity        IdentityResolver // optional
	AllowedOrigins  []string         // empty allows any origin
	MaxConcurrent   int              // sendMessage operations in flight; default 5
	MaxMessageBytes int64            // largest inbound frame; default 32 MiB
	Logger          *slog.Logger
}

// Gateway is the WebSocket endpoint of the chat. Each frame is a JSON
// envelope {"event", "id", "data"}; requests carrying an id are answered
// with an "ack" envelope echoing it.
type Gateway struct {
	registry *Registry
	identity IdentityResolver
	upgrader websocket.Upgrader
	maxBytes int64
	sem      chan struct{}
	logger   *slog.Logger

	// ctx outlives the request that started a send so that a disconnect
	// does not abort a model call half way.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	handler  Handler
	clients  map[string]*wsClient
	draining bool
}

var _ domain.Broadcaster = (*Gateway)(nil)

type envelope struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	gw   *Gateway

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 32 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		registry: cfg.Registry,
		identity: cfg.Identity,
		handler:  cfg.Handler,
		maxBytes: cfg.MaxMessageBytes,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[string]*wsClient),
	}
	origins := cfg.AllowedOrigins
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(origins, r.Header.Get("Origin"))
		},
	}
	return g
}

// SetHandler installs the operation handler. It must be called before the
// gateway serves its first connection.
func (g *Gateway) SetHandler(h Handler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

func (g *Gateway) currentHandler() Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.handler
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := g.currentHandler()
	if h == nil {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}

	tempID := r.URL.Query().Get("tempId")
	if tempID == "" {
		tempID = r.Header.Get("X-Temp-Id")
	}

	var who *identity.Identity
	if g.identity != nil {
		var err error
		who, err = g.identity.Whoami(r.Context(), r)
		if err != nil {
			g.logger.Warn("identity lookup failed, continuing anonymously", "err", err)
			who = nil
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	connID := uuid.NewString()
	if tempID == "" {
		g.reject(conn, "tempId is required")
		return
	}

	req := domain.ConnectRequest{ConnID: connID, TempID: tempID}
	if who != nil {
		req.UserID, req.UserName = who.ID, who.Name
	}
	connected, err := h.Connect(g.ctx, req)
	if err != nil {
		g.logger.Error("connect failed", "conn", connID, "err", err)
		g.reject(conn, "Failed to connect")
		return
	}

	c := &wsClient{id: connID, conn: conn, gw: g, send: make(chan []byte, sendBuffer)}
	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		h.Disconnect(g.ctx, connID)
		g.reject(conn, "Server is shutting down")
		return
	}
	g.clients[connID] = c
	g.mu.Unlock()

	c.emit(envelope{Event: domain.EventConnected, Data: connected})
	g.logger.Info("websocket client connected", "conn", connID, "user", connected.LogicalUserID)

	go c.writePump()
	go c.readPump()
}

// reject writes a single error event and closes the connection.
func (g *Gateway) reject(conn *websocket.Conn, reason string) {
	data, _ := json.Marshal(envelope{Event: domain.EventError, Data: errorPayload{Message: reason}})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, data)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	conn.Close()
}

// BroadcastToRoom queues event for every connection of every user in
// roomID. Clients whose buffer is full are disconnected.
func (g *Gateway) BroadcastToRoom(roomID, event string, payload any) {
	data, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		g.logger.Error("marshal broadcast failed", "room", roomID, "event", event, "err", err)
		return
	}
	for _, connID := range g.registry.RoomConnections(roomID) {
		g.mu.RLock()
		c := g.clients[connID]
		g.mu.RUnlock()
		if c == nil {
			continue
		}
		if !c.enqueue(data) {
			g.logger.Warn("dropping slow websocket client", "conn", connID, "room", roomID)
			c.conn.Close()
		}
	}
}

// Connections reports the number of open sockets.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Shutdown closes every socket and waits for in-flight messages to finish.
// When ctx expires first the remaining work is cancelled.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	clients := make([]*wsClient, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		return errors.New("gateway shutdown: in-flight messages cancelled")
	}
}

func (g *Gateway) unregister(c *wsClient) {
	g.mu.Lock()
	_, ok := g.clients[c.id]
	delete(g.clients, c.id)
	h := g.handler
	g.mu.Unlock()
	c.close()
	if ok && h != nil {
		h.Disconnect(g.ctx, c.id)
		g.logger.Info("websocket client disconnected", "conn", c.id)
	}
}

func (g *Gateway) dispatch(c *wsClient, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.emit(envelope{Event: domain.EventError, Data: errorPayload{Message: "Invalid message"}})
		return
	}
	h := g.currentHandler()

	switch in.Event {
	case domain.EventJoinRoom:
		var req domain.JoinRoomRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.ack(in.ID, domain.JoinRoomResult{Error: "Invalid joinRoom payload"})
			return
		}
		c.ack(in.ID, h.JoinRoom(g.ctx, c.id, req))

	case domain.EventLeaveRoom:
		var req domain.LeaveRoomRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.ack(in.ID, domain.LeaveRoomResult{Error: "Invalid leaveRoom payload"})
			return
		}
		c.ack(in.ID, h.LeaveRoom(g.ctx, c.id, req))

	case domain.EventSendMessage:
		var req domain.SendMessageRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.ack(in.ID, domain.SendResult{Error: "Invalid sendMessage payload", Stage: domain.StageValidation})
			return
		}
		if !g.track() {
			c.ack(in.ID, domain.SendResult{Error: "Server is shutting down", Stage: domain.StageValidation})
			return
		}
		go func() {
			defer g.wg.Done()
			select {
			case g.sem <- struct{}{}:
			case <-g.ctx.Done():
				return
			}
			defer func() { <-g.sem }()
			c.ack(in.ID, h.SendMessage(g.ctx, c.id, req))
		}()

	default:
		c.emit(envelope{Event: domain.EventError, ID: in.ID, Data: errorPayload{Message: "Unknown event: " + in.Event}})
	}
}

// track registers one in-flight send. Adding under mu after the draining
// check keeps every Add ordered before the Wait in Shutdown.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.wg.Add(1)
	return true
}

func (c *wsClient) ack(id string, result any) {
	if id == "" {
		return
	}
	c.emit(envelope{Event: domain.EventAck, ID: id, Data: result})
}

func (c *wsClient) emit(e envelope) {
	data, err := json.Marshal(e)
	if err != nil {
		c.gw.logger.Error("marshal event failed", "event", e.Event, "err", err)
		return
	}
	if !c.enqueue(data) {
		c.gw.logger.Debug("event dropped", "conn", c.id, "event", e.Event)
	}
}

// enqueue never blocks; it reports false when the client is gone or its
// buffer is full.
func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.gw.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.gw.maxBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Warn("websocket read error", "conn", c.id, "err", err)
			}
			return
		}
		c.gw.dispatch(c, message)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
