package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestRunStatusServer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runStatusServer(ctx, "127.0.0.1:0", http.NewServeMux(), quietLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runStatusServer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("status server did not shut down")
	}
}

func TestRunStatusServer_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	err = runStatusServer(context.Background(), ln.Addr().String(), http.NewServeMux(), quietLogger())
	if err == nil {
		t.Fatalf("expected error for an address in use")
	}
}
