//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioSurface owns the requested GPIO lines: operator buttons that feed key
// edges into the daemon and an optional LED that is lit while the vehicle
// link is OPEN.
type gpioSurface struct {
	chip    *gpiocdev.Chip
	buttons []*gpiocdev.Line
	led     *gpiocdev.Line
	logger  *slog.Logger
}

// openGPIO requests every configured line. emit is called from gpiocdev's
// event goroutine for each button edge.
func openGPIO(cfg GPIOConfig, emit func(Event), logger *slog.Logger) (*gpioSurface, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer("rcdrive"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}
	g := &gpioSurface{chip: chip, logger: logger}

	debounce := time.Duration(cfg.DebounceMS) * time.Millisecond
	for _, b := range cfg.Buttons {
		key, err := ParseKey(b.Key)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("gpio line %d: %w", b.Line, err)
		}

		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(buttonHandler(key, b.ActiveLow, emit)),
		}
		if b.ActiveLow {
			opts = append(opts, gpiocdev.WithPullUp)
		} else {
			opts = append(opts, gpiocdev.WithPullDown)
		}
		if debounce > 0 {
			opts = append(opts, gpiocdev.WithDebounce(debounce))
		}

		line, err := chip.RequestLine(b.Line, opts...)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request button line %d: %w", b.Line, err)
		}
		g.buttons = append(g.buttons, line)
		logger.Info("gpio button ready", "line", b.Line, "key", key.String(), "active_low", b.ActiveLow)
	}

	if cfg.StatusLED != nil {
		line, err := chip.RequestLine(cfg.StatusLED.Line, gpiocdev.AsOutput(0))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request led line %d: %w", cfg.StatusLED.Line, err)
		}
		g.led = line
		logger.Info("gpio status led ready", "line", cfg.StatusLED.Line)
	}

	return g, nil
}

func buttonHandler(key Key, activeLow bool, emit func(Event)) func(gpiocdev.LineEvent) {
	return func(evt gpiocdev.LineEvent) {
		emit(buttonEdge(key, evt.Type, activeLow))
	}
}

// buttonEdge converts a line edge into a key edge. With activeLow the falling
// edge is the press.
func buttonEdge(key Key, edge gpiocdev.LineEventType, activeLow bool) Event {
	pressed := edge == gpiocdev.LineEventRisingEdge
	if activeLow {
		pressed = edge == gpiocdev.LineEventFallingEdge
	}
	if pressed {
		return KeyDown{Key: key}
	}
	return KeyUp{Key: key}
}

// runLED follows connection broadcasts until ctx is canceled, then turns the
// LED off. Without a configured LED it only drains src.
func (g *gpioSurface) runLED(ctx context.Context, src <-chan StateBroadcast) {
	for {
		select {
		case <-ctx.Done():
			g.setLED(false)
			return
		case b, ok := <-src:
			if !ok {
				g.setLED(false)
				return
			}
			if on, ok := ledStateFor(b); ok {
				g.setLED(on)
			}
		}
	}
}

// ledStateFor reports the LED level implied by a broadcast, if any.
func ledStateFor(b StateBroadcast) (on bool, ok bool) {
	cc, isConn := b.(BroadcastConnectionChanged)
	if !isConn {
		return false, false
	}
	return cc.State == StateOpen, true
}

func (g *gpioSurface) setLED(on bool) {
	if g.led == nil {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := g.led.SetValue(v); err != nil {
		g.logger.Warn("gpio led write failed", "error", err)
	}
}

// Close releases all lines and the chip.
func (g *gpioSurface) Close() error {
	var errs []error
	for _, l := range g.buttons {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button line: %w", err))
		}
	}
	g.buttons = nil
	if g.led != nil {
		_ = g.led.SetValue(0)
		if err := g.led.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close led line: %w", err))
		}
		g.led = nil
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	return errors.Join(errs...)
}
