package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type decodedFrame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func decodeFrame(t *testing.T, msg []byte) decodedFrame {
	t.Helper()
	var f decodedFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("decode frame %q: %v", msg, err)
	}
	return f
}

func TestConvertBroadcast(t *testing.T) {
	cases := []struct {
		in       StateBroadcast
		wantType string
		wantData any
	}{
		{BroadcastConnectionChanged{State: StateErrored, Err: "refused", At: t0}, "connection_changed", wsConnectionChangedData{State: "errored", Error: "refused"}},
		{BroadcastHeldKeysChanged{Keys: []string{"up"}, At: t0}, "held_keys_changed", wsHeldKeysChangedData{Keys: []string{"up"}}},
		{BroadcastTogglesChanged{CeilingOpen: true, At: t0}, "toggles_changed", wsTogglesChangedData{CeilingOpen: true}},
		{BroadcastLastCommandChanged{Command: CommandHorn, At: t0}, "last_command_changed", wsLastCommandChangedData{Command: "HORN"}},
	}
	for _, tc := range cases {
		got, ok := convertBroadcast(tc.in)
		if !ok {
			t.Fatalf("convertBroadcast(%T) not converted", tc.in)
		}
		if got.Type != tc.wantType || !reflect.DeepEqual(got.Data, tc.wantData) || !got.At.Equal(t0) {
			t.Errorf("convertBroadcast(%T) = %+v; want type %s data %+v", tc.in, got, tc.wantType, tc.wantData)
		}
	}
}

func TestRunBroadcaster_CoalescesHeldKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The hub is not running; frames are read straight off its queue.
	hub := newTestHub(t, 4, 16)
	src := make(chan StateBroadcast, 8)
	go RunBroadcaster(ctx, hub, src, quietLogger())

	src <- BroadcastHeldKeysChanged{Keys: []string{"up"}, At: t0}
	src <- BroadcastHeldKeysChanged{Keys: []string{"up", "left"}, At: t0}
	src <- BroadcastHeldKeysChanged{Keys: []string{"left"}, At: t0}

	var got decodedFrame
	select {
	case msg := <-hub.broadcast:
		got = decodeFrame(t, msg)
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for coalesced held keys")
	}
	if got.Type != "held_keys_changed" || string(got.Data) != `{"keys":["left"]}` {
		t.Fatalf("frame = %s %s; want latest held set", got.Type, got.Data)
	}

	select {
	case msg := <-hub.broadcast:
		t.Fatalf("unexpected extra frame: %s", msg)
	case <-time.After(3 * wsHeldCoalesceWindow):
	}

	// Other broadcasts are sent at once.
	src <- BroadcastLastCommandChanged{Command: CommandLeft, At: t0}
	select {
	case msg := <-hub.broadcast:
		if f := decodeFrame(t, msg); f.Type != "last_command_changed" {
			t.Fatalf("frame type = %s; want last_command_changed", f.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for last_command_changed")
	}
}

func TestRunBroadcaster_FlushesPendingBeforeOtherEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 16)
	src := make(chan StateBroadcast, 8)
	go RunBroadcaster(ctx, hub, src, quietLogger())

	src <- BroadcastHeldKeysChanged{Keys: []string{"down"}, At: t0}
	src <- BroadcastLastCommandChanged{Command: CommandBackward, At: t0}

	var types []string
	for len(types) < 2 {
		select {
		case msg := <-hub.broadcast:
			types = append(types, decodeFrame(t, msg).Type)
		case <-time.After(time.Second):
			t.Fatalf("timeout; got %v", types)
		}
	}
	if types[0] != "held_keys_changed" || types[1] != "last_command_changed" {
		t.Fatalf("frame order = %v", types)
	}
}

func TestStatusWS_SendsStateInitThenBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	srv := NewStatusServer(quietLogger(), events, StatusServerConfig{})
	mux := http.NewServeMux()
	srv.Register(mux, "/ws")
	go srv.Hub().Run(ctx)

	// Stand in for the daemon: answer snapshot requests.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					snap := NewSessionState().Snapshot()
					snap.Connection = "open"
					req.Reply <- snap
				}
			}
		}
	}()

	hs := httptest.NewServer(mux)
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	f := decodeFrame(t, msg)
	if f.Type != "state_init" || f.Ts == nil {
		t.Fatalf("first frame = %s", msg)
	}
	var snap StateSnapshot
	if err := json.Unmarshal(f.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Connection != "open" || snap.LastCommand != "INIT" || !snap.AutoLight {
		t.Fatalf("snapshot = %+v", snap)
	}

	frame := []byte(`{"type":"toggles_changed","data":{"ceiling_open":true,"auto_light":true}}`)
	srv.Hub().BroadcastBytes(frame)
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if string(msg) != string(frame) {
		t.Fatalf("broadcast = %s; want %s", msg, frame)
	}
}
