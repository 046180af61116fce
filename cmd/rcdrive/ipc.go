package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// Operator key socket
// ============================================================================
// Scripts, rcdrive-ctl and remote panels press and release operator keys over
// a unix socket. Each line is one key edge:
//
//   {"type":"key_down","data":{"key":"up"}}
//   {"type":"key_up","data":{"key":"up"}}
//
// and each line is answered with {"status":"ok"} or
// {"status":"error","error":"..."}. Accepted edges join the same event channel
// as keyboard and GPIO input, so the reducer cannot tell them apart.
// ============================================================================

// IPCResponse answers one request line.
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var (
	errIPCNotKeyEdge = errors.New("only key_down and key_up are accepted")
	errIPCQueueFull  = errors.New("event queue full")
)

// runIPCServer serves the key socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	// A stale socket from a crashed run would make Listen fail.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	// Panels run as other users.
	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("key socket listening", "socket", socketPath)

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("key socket closed")
				return nil
			}
			logger.Error("key socket accept failed", "error", err)
			continue
		}
		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection answers key edges from one client until it hangs up or
// ctx is canceled.
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := logger.With("remote_addr", conn.RemoteAddr().String())
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ev, err := parseKeyEdge([]byte(line))
		if err == nil {
			err = offerKeyEdge(events, ev)
		}

		resp := IPCResponse{Status: "ok"}
		if err != nil {
			resp = IPCResponse{Status: "error", Error: err.Error()}
			log.Debug("key edge rejected", "line", line, "error", err)
		} else {
			log.Debug("key edge", "event", fmt.Sprintf("%#v", ev))
		}
		if err := enc.Encode(resp); err != nil {
			log.Warn("key socket reply failed", "error", err)
			return
		}
	}
}

// parseKeyEdge decodes one request line into KeyDown or KeyUp.
func parseKeyEdge(line []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if env.Type != "key_down" && env.Type != "key_up" {
		return nil, fmt.Errorf("%w, got %q", errIPCNotKeyEdge, env.Type)
	}
	return UnmarshalEvent(line)
}

// offerKeyEdge hands ev to the daemon without waiting; a key edge that cannot
// be queued right away is reported to the client instead of delivered late.
func offerKeyEdge(events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	default:
		return errIPCQueueFull
	}
}

// SendIPCEvent sends one key edge and waits for the answer. rcdrive-ctl keeps
// its own copy so it builds standalone.
func SendIPCEvent(socketPath string, ev Event) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ipc error: %s", resp.Error)
	}
	return nil
}
