package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the daemon's status frame: {type, ts, data}.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL = flag.String("url", "ws://127.0.0.1:3001/ws", "rcdrive status websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings every 20s; answer pongs automatically and extend the deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			fmt.Println(formatFrame(message))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one status frame as a single line.
func formatFrame(message []byte) string {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "[TEXT] " + string(message)
	}

	ts := ""
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000") + " "
	}

	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)

	switch env.Type {
	case "state_init":
		return fmt.Sprintf("%s[INIT] connection=%v held=%v ceiling_open=%v auto_light=%v last=%v dropped=%v",
			ts, data["connection"], data["held_keys"], data["ceiling_open"], data["auto_light"], data["last_command"], data["dropped"])
	case "connection_changed":
		if e, ok := data["error"]; ok {
			return fmt.Sprintf("%s[LINK] %v (%v)", ts, data["state"], e)
		}
		return fmt.Sprintf("%s[LINK] %v", ts, data["state"])
	case "held_keys_changed":
		keys, _ := data["keys"].([]any)
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, fmt.Sprint(k))
		}
		return fmt.Sprintf("%s[KEYS] %s", ts, strings.Join(names, "+"))
	case "toggles_changed":
		return fmt.Sprintf("%s[TOGGLES] ceiling_open=%v auto_light=%v", ts, data["ceiling_open"], data["auto_light"])
	case "last_command_changed":
		return fmt.Sprintf("%s[SENT] %v", ts, data["command"])
	default:
		return fmt.Sprintf("%s[%s] %s", ts, strings.ToUpper(env.Type), string(env.Data))
	}
}
