package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStatusPublisher records published documents for test assertions.
type fakeStatusPublisher struct {
	mu           sync.Mutex
	states       [][]byte
	availability []bool
	closed       bool

	// PublishError, if set, is returned by PublishState.
	PublishError error
}

func (f *fakeStatusPublisher) PublishState(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.states = append(f.states, append([]byte(nil), payload...))
	return nil
}

func (f *fakeStatusPublisher) PublishAvailability(online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availability = append(f.availability, online)
	return nil
}

func (f *fakeStatusPublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStatusPublisher) lastState() (mqttStatus, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return mqttStatus{}, 0, false
	}
	var st mqttStatus
	if err := json.Unmarshal(f.states[len(f.states)-1], &st); err != nil {
		return mqttStatus{}, len(f.states), false
	}
	return st, len(f.states), true
}

func (f *fakeStatusPublisher) snapshot() (availability []bool, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.availability...), f.closed
}

func TestMQTTStatus_ApplyFoldsBroadcasts(t *testing.T) {
	doc := newMQTTStatus()
	if doc.Connection != "disconnected" || !doc.AutoLight || doc.LastCommand != string(CommandInit) {
		t.Fatalf("initial document = %+v", doc)
	}

	if !doc.apply(BroadcastConnectionChanged{State: StateErrored, Err: "refused", At: t0}) {
		t.Fatalf("connection broadcast not applied")
	}
	doc.apply(BroadcastHeldKeysChanged{Keys: []string{"up", "left"}, At: t0})
	doc.apply(BroadcastTogglesChanged{CeilingOpen: true, AutoLight: false, At: t0})
	doc.apply(BroadcastLastCommandChanged{Command: CommandForwardLeft, At: atMS(10)})

	if doc.Connection != "errored" || doc.ConnError != "refused" {
		t.Fatalf("connection = %q (%q)", doc.Connection, doc.ConnError)
	}
	if len(doc.HeldKeys) != 2 || !doc.CeilingOpen || doc.AutoLight {
		t.Fatalf("document = %+v", doc)
	}
	if doc.LastCommand != "FORWARD_LEFT" || !doc.UpdatedAt.Equal(atMS(10)) {
		t.Fatalf("last command = %q at %v", doc.LastCommand, doc.UpdatedAt)
	}
}

func TestRunStatusPublisher_PublishesEveryChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &fakeStatusPublisher{}
	src := make(chan StateBroadcast, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runStatusPublisher(ctx, pub, src, quietLogger())
	}()

	src <- BroadcastConnectionChanged{State: StateOpen, At: t0}
	src <- BroadcastLastCommandChanged{Command: CommandBackward, At: t0}

	waitUntil(t, time.Second, func() bool {
		_, n, _ := pub.lastState()
		return n == 2
	}, "expected two state publishes")

	st, _, ok := pub.lastState()
	if !ok {
		t.Fatalf("last state is not valid JSON")
	}
	if st.Connection != "open" || st.LastCommand != "BACKWARD" {
		t.Fatalf("published state = %+v", st)
	}

	cancel()
	<-done

	avail, closed := pub.snapshot()
	if len(avail) != 1 || !avail[0] {
		t.Fatalf("availability = %v; want [true]", avail)
	}
	if !closed {
		t.Fatalf("publisher should be closed on exit")
	}
}

func TestRunStatusPublisher_SurvivesPublishErrors(t *testing.T) {
	pub := &fakeStatusPublisher{PublishError: errors.New("broker gone")}
	src := make(chan StateBroadcast, 2)
	src <- BroadcastTogglesChanged{CeilingOpen: true, At: t0}
	close(src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runStatusPublisher(context.Background(), pub, src, quietLogger())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher did not stop after source closed")
	}
	if _, closed := pub.snapshot(); !closed {
		t.Fatalf("publisher should be closed on exit")
	}
}
