package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// mockLink is a VehicleLink that opens instantly and records every send.
type mockLink struct {
	mu          sync.Mutex
	state       ConnectionState
	gen         uint64
	sent        []DriveCommand
	connects    int
	disconnects int
}

func (m *mockLink) Connect(host string) ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	m.gen++
	m.state = StateOpen
	return m.state
}

func (m *mockLink) Disconnect() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.gen++
	m.state = StateDisconnected
	return m.state
}

func (m *mockLink) Send(cmd DriveCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return ErrNotOpen
	}
	m.sent = append(m.sent, cmd)
	return nil
}

func (m *mockLink) Status() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockLink) Session() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *mockLink) count(cmd DriveCommand) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.sent {
		if c == cmd {
			n++
		}
	}
	return n
}

func (m *mockLink) counters() (connects, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.disconnects
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type daemonHarness struct {
	events chan Event
	link   *mockLink
	sink   chan StateBroadcast
	cancel context.CancelFunc
	done   chan struct{}
}

func startDaemon(t *testing.T) *daemonHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &daemonHarness{
		events: make(chan Event, 16),
		link:   &mockLink{},
		sink:   make(chan StateBroadcast, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	engine := testEngine
	engine.TickInterval = 20 * time.Millisecond

	go func() {
		defer close(h.done)
		runDaemon(ctx, h.events, h.link, nil, DaemonOptions{
			Host:   "192.168.4.1",
			Engine: engine,
			Sinks:  []chan<- StateBroadcast{h.sink},
		}, quietLogger())
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *daemonHarness) stop() {
	h.cancel()
	<-h.done
}

func TestDaemon_ConnectsOnStartup(t *testing.T) {
	h := startDaemon(t)

	waitUntil(t, time.Second, func() bool {
		c, _ := h.link.counters()
		return c == 1
	}, "daemon did not connect on startup")

	h.stop()
	if _, d := h.link.counters(); d != 1 {
		t.Fatalf("daemon should disconnect once on exit; got %d", d)
	}
}

func TestDaemon_HeartbeatThenSingleStop(t *testing.T) {
	h := startDaemon(t)
	waitUntil(t, time.Second, func() bool { return h.link.Status() == StateOpen }, "link not open")

	h.events <- KeyDown{Key: KeyArrowUp}
	waitUntil(t, time.Second, func() bool {
		return h.link.count(CommandForward) >= 4
	}, "FORWARD was not repeated on the tick")

	h.events <- KeyUp{Key: KeyArrowUp}
	waitUntil(t, time.Second, func() bool {
		return h.link.count(CommandStop) == 1
	}, "STOP was not sent on release")

	forward := h.link.count(CommandForward)
	time.Sleep(150 * time.Millisecond)
	if n := h.link.count(CommandStop); n != 1 {
		t.Fatalf("STOP sent %d times; want exactly 1", n)
	}
	if n := h.link.count(CommandForward); n != forward {
		t.Fatalf("FORWARD kept repeating after release: %d -> %d", forward, n)
	}
}

func TestDaemon_PublishesBroadcasts(t *testing.T) {
	h := startDaemon(t)

	h.events <- KeyDown{Key: KeyCeiling}

	deadline := time.After(time.Second)
	for {
		select {
		case b := <-h.sink:
			if tc, ok := b.(BroadcastTogglesChanged); ok {
				if tc.CeilingOpen || !tc.AutoLight {
					t.Fatalf("toggles = %+v; want ceiling closed and auto light on", tc)
				}
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for toggles broadcast")
		}
	}
}

func TestDaemon_AnswersSnapshotRequest(t *testing.T) {
	h := startDaemon(t)
	waitUntil(t, time.Second, func() bool { return h.link.Status() == StateOpen }, "link not open")

	h.events <- KeyDown{Key: KeyArrowLeft}
	waitUntil(t, time.Second, func() bool { return h.link.count(CommandLeft) >= 1 }, "LEFT not sent")

	reply := make(chan StateSnapshot, 1)
	h.events <- RequestStateSnapshot{Reply: reply}

	select {
	case snap := <-reply:
		if snap.Connection != "open" {
			t.Fatalf("snapshot connection = %q; want open", snap.Connection)
		}
		if len(snap.HeldKeys) != 1 || snap.HeldKeys[0] != "left" {
			t.Fatalf("snapshot held = %v; want [left]", snap.HeldKeys)
		}
		if snap.LastCommand != string(CommandLeft) {
			t.Fatalf("snapshot last = %q; want LEFT", snap.LastCommand)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for snapshot")
	}
}

func TestDaemon_StopsWhenEventsClosed(t *testing.T) {
	events := make(chan Event)
	link := &mockLink{}
	done := make(chan struct{})

	go func() {
		defer close(done)
		runDaemon(context.Background(), events, link, nil, DaemonOptions{Host: "10.0.0.1", Engine: testEngine}, quietLogger())
	}()

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop after events channel closed")
	}
}
