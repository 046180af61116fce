package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// ============================================================================
// rcdrive-ctl - Command-line IPC Client
// ============================================================================
// Presses and releases rcdrive operator keys via IPC.
//
// Usage:
//   rcdrive-ctl press up
//   rcdrive-ctl release up
//   rcdrive-ctl tap ceiling
//   rcdrive-ctl tap horn -hold 300ms
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/rcdrive.sock)
// ============================================================================

// Envelope types (duplicated from the daemon for a standalone binary)
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type keyPayload struct {
	Key string `json:"key"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var validKeys = map[string]bool{
	"up": true, "down": true, "left": true, "right": true,
	"horn": true, "ceiling": true, "auto_light": true,
	"disconnect": true, "reconnect": true,
}

const defaultTapHold = 100 * time.Millisecond

func main() {
	socketPath := "/tmp/rcdrive.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		os.Exit(0)
	}

	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "error: %s requires a key\n", args[0])
		printUsage()
		os.Exit(1)
	}
	key := args[1]
	if !validKeys[key] {
		fmt.Fprintf(os.Stderr, "error: unknown key: %s\n", key)
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "press", "down":
		err = sendKey(socketPath, "key_down", key)

	case "release", "up":
		err = sendKey(socketPath, "key_up", key)

	case "tap":
		hold := defaultTapHold
		if len(args) >= 4 && args[2] == "-hold" {
			hold, err = time.ParseDuration(args[3])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid -hold: %v\n", err)
				os.Exit(1)
			}
		}
		if err = sendKey(socketPath, "key_down", key); err == nil {
			time.Sleep(hold)
			err = sendKey(socketPath, "key_up", key)
		}

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func sendKey(socketPath, typ, key string) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalKey(typ, key)
	if err != nil {
		return err
	}

	// Send event (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func marshalKey(typ, key string) ([]byte, error) {
	data, err := json.Marshal(keyPayload{Key: key})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return json.Marshal(EventEnvelope{Type: typ, Data: data})
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `rcdrive-ctl - Press rcdrive operator keys via IPC

Usage:
  rcdrive-ctl [options] <command> <key> [-hold DURATION]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/rcdrive.sock)

Commands:
  press, down <key>       Send a key press
  release, up <key>       Send a key release
  tap <key>               Press, wait (-hold, default 100ms), release
  help, -h, --help        Show this help message

Keys:
  up down left right horn ceiling auto_light disconnect reconnect

Examples:
  rcdrive-ctl press up
  rcdrive-ctl release up
  rcdrive-ctl tap horn -hold 500ms
  rcdrive-ctl -socket /run/rcdrive.sock tap reconnect
`)
}
