package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that reads reducer-emitted state broadcasts and fans out
//
// Design constraints (project architecture):
//   - SessionState remains daemon-owned; never expose *SessionState to other goroutines.
//   - Initial state snapshot on connect must go through the reducer/event loop.
//   - WS broadcasts originate from reducer-emitted broadcasts (ReduceResult.Broadcasts).
//   - Slow clients must be disconnected if they can't keep up.
//
// Notes:
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The initial message on connect is "state_init" with StateSnapshot in data.
//
// ============================================================================

// wsConnectionChangedData is the JSON `data` payload for "connection_changed".
type wsConnectionChangedData struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// wsHeldKeysChangedData is the JSON `data` payload for "held_keys_changed".
type wsHeldKeysChangedData struct {
	Keys []string `json:"keys"`
}

// wsTogglesChangedData is the JSON `data` payload for "toggles_changed".
type wsTogglesChangedData struct {
	CeilingOpen bool `json:"ceiling_open"`
	AutoLight   bool `json:"auto_light"`
}

// wsLastCommandChangedData is the JSON `data` payload for "last_command_changed".
type wsLastCommandChangedData struct {
	Command string `json:"command"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // optional timestamp; zero means "omit" or use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// Configuration
	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("status hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("status hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("status client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Avoid mutating the clients map while ranging over it.
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		// Guard against double-close by recovering (best-effort).
		safeCloseChan(c.send)

		h.logger.Info("status client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("status hub queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	// Keepalive: rcdrive-watch answers pings; dead watchers are dropped after pongWait.
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsHeldCoalesceWindow is the maximum time window during which bursty held-key
// updates are coalesced (latest-wins) before broadcasting to clients.
const wsHeldCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// logPumpExit reports why a client pump stopped. ErrCloseSent means we
// initiated the close and is not logged.
func (c *Client) logPumpExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("status "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("status "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket and pings
// every pingPeriod. It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logPumpExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logPumpExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames; watchers never send anything meaningful.
// It exists to process pongs and detect disconnects, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logPumpExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type StatusServer struct {
	logger *slog.Logger

	hub *Hub

	// Required for initial snapshot request on connect (through reducer/event loop).
	events chan<- Event
}

type StatusServerConfig struct {
	Hub HubConfig
}

// NewStatusServer constructs the status WS components. Call Register on a mux,
// start Hub().Run(ctx), and start RunBroadcaster.
func NewStatusServer(logger *slog.Logger, events chan<- Event, cfg StatusServerConfig) *StatusServer {
	hub := NewHub(logger, cfg.Hub)
	return &StatusServer{
		logger: logger,
		hub:    hub,
		events: events,
	}
}

func (s *StatusServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *StatusServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStatusWS)
}

var statusUpgrader = websocket.Upgrader{
	// Status is read-only; any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusWS upgrades and registers a client, then sends state_init.
func (s *StatusServer) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("status ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Start pumps.
	//
	// IMPORTANT:
	// Do not tie the pumps to the HTTP request context (r.Context()).
	// net/http cancels the request context when the handler returns, which would
	// prematurely stop the pumps and cause abnormal WS closures (e.g. code 1006).
	// The connection lifetime is instead managed by the hub (close/unregister) and
	// by the websocket read/write errors.
	go client.writePump(context.Background())
	go client.readPump()

	// Request snapshot for initial state_init message (through reducer/event loop).
	// Use the HTTP request context here so it cancels if the client disconnects
	// during the snapshot round-trip.
	if s.events != nil {
		reply := make(chan StateSnapshot, 1)

		select {
		case <-r.Context().Done():
			return
		case s.events <- RequestStateSnapshot{Reply: reply}:
		}

		waitCtx := r.Context()
		if _, has := r.Context().Deadline(); !has {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
		}

		select {
		case <-waitCtx.Done():
			if !errors.Is(waitCtx.Err(), context.Canceled) {
				s.logger.Warn("status snapshot request failed", "error", waitCtx.Err())
			}
			return

		case snap := <-reply:
			now := time.Now().UTC()
			initMsg, mErr := json.Marshal(envelope{
				Type: "state_init",
				Ts:   &now,
				Data: snap,
			})
			if mErr == nil {
				// Enqueue init message; if client is already slow, disconnect.
				select {
				case client.send <- initMsg:
				default:
					s.hub.unregister <- client
					return
				}
			}
		}
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted StateBroadcast events, marshals them, and broadcasts
// them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Rate-limit bursty held-key updates: flush the latest pending set at most once every
	// wsHeldCoalesceWindow, even if updates keep arriving (no debounce-on-silence).
	var pendingHeld *wsOutboundEvent
	var heldTimer *time.Timer
	var heldTimerCh <-chan time.Time

	flushPendingHeld := func() {
		if pendingHeld == nil {
			return
		}

		ts := pendingHeld.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		msg, err := json.Marshal(envelope{
			Type: pendingHeld.Type,
			Ts:   &ts,
			Data: pendingHeld.Data,
		})
		if err != nil {
			logger.Warn("status broadcast marshal failed", "error", err, "type", pendingHeld.Type)
			// Drop the pending item so we don't retry-marshal forever.
			pendingHeld = nil
			return
		}

		hub.BroadcastBytes(msg)
		pendingHeld = nil
	}

	stopHeldTimer := func() {
		if heldTimer == nil {
			heldTimerCh = nil
			return
		}
		if !heldTimer.Stop() {
			// Drain if needed.
			select {
			case <-heldTimer.C:
			default:
			}
		}
		heldTimerCh = nil
		heldTimer = nil
	}

	startHeldTimerIfNeeded := func() {
		if heldTimer != nil {
			return
		}
		heldTimer = time.NewTimer(wsHeldCoalesceWindow)
		heldTimerCh = heldTimer.C
	}

	resetHeldTimer := func() {
		// Timer must already exist.
		if heldTimer == nil {
			return
		}
		if !heldTimer.Stop() {
			select {
			case <-heldTimer.C:
			default:
			}
		}
		heldTimer.Reset(wsHeldCoalesceWindow)
		heldTimerCh = heldTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort: flush pending held-key update before exit.
			flushPendingHeld()
			stopHeldTimer()
			return

		case <-heldTimerCh:
			// Timer tick: flush latest pending held-key set if present.
			flushPendingHeld()
			// Keep ticking only if more updates are pending; otherwise stop.
			if pendingHeld == nil {
				stopHeldTimer()
			} else {
				resetHeldTimer()
			}

		case b, ok := <-src:
			if !ok {
				// If the source ends, flush any pending coalesced update then stop.
				flushPendingHeld()
				stopHeldTimer()
				logger.Info("status broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				// Unknown broadcasts are dropped.
				continue
			}

			// Rate-limit only held_keys_changed; do NOT reset the timer on each update.
			// Latest-wins: replace pending event and ensure the periodic timer is running.
			if ev.Type == "held_keys_changed" {
				copyEv := ev
				pendingHeld = &copyEv
				startHeldTimerIfNeeded()
				continue
			}

			// Other events: flush pending held keys first, then emit this event immediately.
			flushPendingHeld()
			stopHeldTimer()

			ts := ev.At
			if ts.IsZero() {
				ts = time.Now().UTC()
			}

			msg, err := json.Marshal(envelope{
				Type: ev.Type,
				Ts:   &ts,
				Data: ev.Data,
			})
			if err != nil {
				logger.Warn("status broadcast marshal failed", "error", err, "type", ev.Type)
				continue
			}

			hub.BroadcastBytes(msg)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastConnectionChanged:
		return wsOutboundEvent{
			Type: "connection_changed",
			Data: wsConnectionChangedData{State: ev.State.String(), Error: ev.Err},
			At:   ev.At,
		}, true

	case BroadcastHeldKeysChanged:
		return wsOutboundEvent{
			Type: "held_keys_changed",
			Data: wsHeldKeysChangedData{Keys: ev.Keys},
			At:   ev.At,
		}, true

	case BroadcastTogglesChanged:
		return wsOutboundEvent{
			Type: "toggles_changed",
			Data: wsTogglesChangedData{CeilingOpen: ev.CeilingOpen, AutoLight: ev.AutoLight},
			At:   ev.At,
		}, true

	case BroadcastLastCommandChanged:
		return wsOutboundEvent{
			Type: "last_command_changed",
			Data: wsLastCommandChangedData{Command: string(ev.Command)},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
