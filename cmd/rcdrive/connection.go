package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionState is the lifecycle state of the vehicle link.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrNotOpen is returned by Send when no session is open. Nothing is queued.
var ErrNotOpen = errors.New("vehicle link not open")

// VehicleLink defines the vehicle link operations used by the daemon.
// This allows for mocking in tests
type VehicleLink interface {
	Connect(host string) ConnectionState
	Disconnect() ConnectionState
	Send(cmd DriveCommand) error
	Status() ConnectionState

	// Session identifies the current session handle. It increases every time
	// Connect or Disconnect replaces the handle.
	Session() uint64
}

// LinkNotifyFunc receives asynchronous link transitions: handshake result,
// remote close. session is the handle the transition belongs to.
type LinkNotifyFunc func(session uint64, state ConnectionState, err error)

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	Port             int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Notify is called from link goroutines, never with the lock held.
	Notify LinkNotifyFunc
}

// ConnectionManager owns one outbound websocket session to the vehicle.
type ConnectionManager struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnectionState
	gen   uint64

	port         int
	dialer       websocket.Dialer
	writeTimeout time.Duration
	notify       LinkNotifyFunc
	logger       *slog.Logger
}

// NewConnectionManager creates a manager in the DISCONNECTED state. No dial
// happens until Connect.
func NewConnectionManager(opts ConnectionOptions, logger *slog.Logger) *ConnectionManager {
	port := opts.Port
	if port <= 0 {
		port = defaultVehiclePort
	}
	hs := opts.HandshakeTimeout
	if hs <= 0 {
		hs = time.Duration(defaultHandshakeTimeoutMS) * time.Millisecond
	}
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = time.Duration(defaultWriteTimeoutMS) * time.Millisecond
	}

	return &ConnectionManager{
		state:        StateDisconnected,
		port:         port,
		dialer:       websocket.Dialer{HandshakeTimeout: hs},
		writeTimeout: wt,
		notify:       opts.Notify,
		logger:       logger,
	}
}

// vehicleURL builds the websocket endpoint for host.
func vehicleURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Connect starts a background dial to host and returns CONNECTING.
// It is a no-op while a session is OPEN or CONNECTING.
func (c *ConnectionManager) Connect(host string) ConnectionState {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		st := c.state
		c.mu.Unlock()
		return st
	}

	c.closeLocked()
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	url := vehicleURL(host, c.port)
	c.logger.Info("connecting to vehicle", "url", url, "session", gen)

	go c.dial(gen, url)

	return StateConnecting
}

func (c *ConnectionManager) dial(gen uint64, url string) {
	conn, _, err := c.dialer.Dial(url, nil)

	c.mu.Lock()
	if gen != c.gen {
		// Superseded by Disconnect or a newer Connect.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.logger.Debug("discarding superseded dial result", "session", gen)
		return
	}
	if err != nil {
		c.state = StateErrored
		c.mu.Unlock()
		c.logger.Warn("vehicle handshake failed", "url", url, "error", err)
		c.emit(gen, StateErrored, err)
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.logger.Info("connected to vehicle", "url", url, "session", gen)
	c.emit(gen, StateOpen, nil)

	c.readLoop(gen, conn)
}

// readLoop discards inbound frames. A read error ends the session.
func (c *ConnectionManager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.mu.Lock()
			if gen != c.gen || c.conn != conn {
				c.mu.Unlock()
				return
			}
			_ = conn.Close()
			c.conn = nil
			c.state = StateDisconnected
			c.mu.Unlock()

			if code, text, ok := closeStatus(err); ok {
				c.logger.Info("vehicle closed the session", "code", code, "reason", text)
			} else {
				c.logger.Info("vehicle session ended", "error", err)
			}
			c.emit(gen, StateDisconnected, err)
			return
		}
	}
}

// Disconnect closes the session, if any, and reports DISCONNECTED at once.
func (c *ConnectionManager) Disconnect() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil && c.state != StateConnecting {
		return c.state
	}

	c.closeLocked()
	c.gen++
	c.state = StateDisconnected
	c.logger.Info("disconnected from vehicle")
	return StateDisconnected
}

// closeLocked performs the close handshake on the current conn. c.mu must be held.
func (c *ConnectionManager) closeLocked() {
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	_ = c.conn.Close()
	c.conn = nil
}

// Send writes one token as a text frame. It returns ErrNotOpen unless a
// session is open. A write failure closes the session and leaves ERRORED.
func (c *ConnectionManager) Send(cmd DriveCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.conn == nil {
		return ErrNotOpen
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		_ = c.conn.Close()
		c.conn = nil // Mark connection as broken
		c.state = StateErrored
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

func (c *ConnectionManager) Status() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ConnectionManager) Session() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Close disconnects; it implements io.Closer for shutdown paths.
func (c *ConnectionManager) Close() error {
	c.Disconnect()
	return nil
}

func (c *ConnectionManager) emit(gen uint64, st ConnectionState, err error) {
	if c.notify != nil {
		c.notify(gen, st, err)
	}
}
