package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven "Daemon Brain"
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The daemon loop is the only place that executes side effects (vehicle link calls).
//   - Link observations are turned into Events and fed back into the reducer.
//   - Exactly one tick timer is live; it is re-armed when the held-key set or
//     the last sent command changes, and after every fire.
//
// ============================================================================

// DaemonOptions configures runDaemon.
type DaemonOptions struct {
	// Host is the vehicle address passed to VehicleLink.Connect.
	Host string

	Engine EngineConfig

	// Clock stamps incoming events. Defaults to the system clock.
	Clock Clock

	// Sinks receive every reducer-emitted broadcast. Sends never block; a full
	// sink misses the broadcast.
	Sinks []chan<- StateBroadcast
}

// runDaemon is the main daemon loop that:
//   - Receives Events from multiple sources
//   - Emits Tick events from a single re-armable timer
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands against the vehicle link and feeds observations back into the reducer
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
//   - Stops the timer and disconnects the link on every exit path
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	link VehicleLink,
	state *SessionState,
	opts DaemonOptions,
	logger *slog.Logger,
) {
	if state == nil {
		state = NewSessionState()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	tickEvery := opts.Engine.TickInterval
	if tickEvery <= 0 {
		tickEvery = time.Duration(defaultTickMS) * time.Millisecond
	}

	timer := time.NewTimer(tickEvery)
	defer timer.Stop()

	defer func() {
		if link != nil {
			link.Disconnect()
		}
	}()

	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(tickEvery)
	}

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command
	needRearm := false

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bcs []StateBroadcast) {
		for _, b := range bcs {
			for _, sink := range opts.Sinks {
				select {
				case sink <- b:
				default:
					logger.Debug("broadcast sink full, dropping", "broadcast", b)
				}
			}
		}
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, opts.Engine)
			if rr.State != nil {
				state = rr.State
			}
			if rr.Rearm {
				needRearm = true
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(link, opts.Host, cmd, clock, logger, enqueueEvent)

			// Observations should be reduced promptly to keep state coherent and
			// allow the reducer to emit follow-up commands (if any).
			flushEvents()
		}
	}

	process := func(ev Event) {
		enqueueEvent(ev)
		flushEvents()
		flushCommands()
		if needRearm {
			rearm()
			needRearm = false
		}
	}

	process(TimedEvent{Event: SessionStarted{}, At: clock.Now()})

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			process(TimedEvent{Event: ev, At: clock.Now()})

		case <-timer.C:
			// The timer has fired, so Reset is safe without draining.
			timer.Reset(tickEvery)
			process(Tick{Now: clock.Now()})
		}
	}
}
