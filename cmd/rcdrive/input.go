package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// runKeyboardInput opens the evdev devices, reads them through one epoll loop
// and forwards translated key edges to the daemon. It returns when ctx is
// canceled or a device fails.
func runKeyboardInput(ctx context.Context, devices []string, km KeyMap, out chan<- Event, logger *slog.Logger) error {
	if len(devices) == 0 {
		logger.Info("no input devices configured; keyboard input disabled")
		<-ctx.Done()
		return nil
	}

	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s (run as root or add user to 'input' group): %w", dev, err)
		}
		files = append(files, f)
		logger.Info("opened input device", "device", dev)
	}

	raw := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputEventsEpoll(ctx.Done(), files, raw, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if errors.Is(err, errInputStopped) {
				return nil
			}
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-raw:
			e, ok := km.Translate(ev)
			if !ok {
				continue
			}
			logger.Debug("key", "code", ev.Code, "value", ev.Value, "event", fmt.Sprintf("%T", e))
			select {
			case out <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
