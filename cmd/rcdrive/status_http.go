package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// runStatusServer serves the status websocket on addr and shuts it down
// gracefully when ctx is canceled.
func runStatusServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server listen on %s: %w", addr, err)
	}
	logger.Info("status server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		// Wait for the Serve goroutine to return.
		_ = <-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
