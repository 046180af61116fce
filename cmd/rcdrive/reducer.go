package main

import (
	"time"
)

// This file implements the reducer-style command engine:
//
//   - Events: key edges, ticks, link observations
//   - Commands: side effects requested by the reducer (send, connect, disconnect)
//   - Reduce(): computes next state + commands, without performing I/O
//
// The daemon loop is responsible for executing Commands and feeding observations
// (CommandSent, CommandDropped, ConnectionObserved) back as Events.

// EngineConfig holds the timing knobs of the command engine.
type EngineConfig struct {
	TickInterval time.Duration

	CeilingCooldown   time.Duration
	AutoLightCooldown time.Duration
	SocketCooldown    time.Duration
}

// ReduceResult is the output of Reduce(): next state plus Commands to execute
// and Broadcasts for status consumers.
//
// Rearm is set when the held-key set or LastSent changed; the daemon restarts
// the tick timer so the next derivation runs one full period later.
type ReduceResult struct {
	State      *SessionState
	Commands   []Command
	Broadcasts []StateBroadcast
	Rearm      bool
}

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not read the wall clock; time comes from the event
// - Must not mutate anything outside the returned state
func Reduce(s *SessionState, e Event, cfg EngineConfig) ReduceResult {
	if s == nil {
		s = NewSessionState()
	}

	prevHeld := s.Held
	prevLast := s.LastSent

	var cmds []Command
	var bcs []StateBroadcast

	switch ev := e.(type) {
	case Tick:
		if c, ok := Derive(s.Held, s.LastSent); ok {
			cmds = append(cmds, CmdSend{Command: c})
		}

	case TimedEvent:
		if !isPayload(ev.Event) {
			// Observations carry their own timestamps.
			return Reduce(s, ev.Event, cfg)
		}
		cmds, bcs = reducePayload(s, ev.Event, ev.At, cfg)

	case KeyDown, KeyUp, SessionStarted, RequestStateSnapshot:
		// Unstamped payloads carry the zero time.
		cmds, bcs = reducePayload(s, ev, time.Time{}, cfg)

	case CommandSent:
		s.LastSent = ev.Command
		s.LastSentAt = ev.At
		if ev.Command != prevLast {
			bcs = append(bcs, BroadcastLastCommandChanged{Command: ev.Command, At: ev.At})
		}

	case CommandDropped:
		s.Dropped++

	case ConnectionObserved:
		if ev.Session < s.ConnSession {
			break
		}
		s.ConnSession = ev.Session
		errText := ""
		if ev.Err != nil {
			errText = ev.Err.Error()
		}
		if ev.State != s.Conn || errText != s.ConnErr {
			s.Conn = ev.State
			s.ConnErr = errText
			bcs = append(bcs, BroadcastConnectionChanged{State: ev.State, Err: errText, At: ev.At})
		}

	default:
		// Unknown event type: no-op.
	}

	if s.Held != prevHeld {
		bcs = append(bcs, BroadcastHeldKeysChanged{Keys: s.Held.Names(), At: eventTime(e)})
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcs,
		Rearm:      s.Held != prevHeld || s.LastSent != prevLast,
	}
}

// eventTime is the timestamp an event carries, or the zero time.
func eventTime(e Event) time.Time {
	switch ev := e.(type) {
	case TimedEvent:
		return ev.At
	case Tick:
		return ev.Now
	case CommandSent:
		return ev.At
	case CommandDropped:
		return ev.At
	case ConnectionObserved:
		return ev.At
	}
	return time.Time{}
}

// isPayload reports whether e is an operator or lifecycle event whose
// handling depends on the time it entered the loop.
func isPayload(e Event) bool {
	switch e.(type) {
	case KeyDown, KeyUp, SessionStarted, RequestStateSnapshot:
		return true
	default:
		return false
	}
}

// reducePayload handles operator and lifecycle events stamped with at.
func reducePayload(s *SessionState, e Event, at time.Time, cfg EngineConfig) ([]Command, []StateBroadcast) {
	switch ev := e.(type) {
	case KeyDown:
		return applyTransition(s, ev.Key, true, at, cfg)

	case KeyUp:
		return applyTransition(s, ev.Key, false, at, cfg)

	case SessionStarted:
		s.Cooldowns.Socket.Arm(at, cfg.SocketCooldown)
		return []Command{CmdConnect{}}, nil

	case RequestStateSnapshot:
		if ev.Reply == nil {
			return nil, nil
		}
		return []Command{CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()}}, nil
	}
	return nil, nil
}

func applyTransition(s *SessionState, k Key, down bool, at time.Time, cfg EngineConfig) ([]Command, []StateBroadcast) {
	tr, ok := TransitionFor(k, down)
	if !ok {
		return nil, nil
	}

	switch t := tr.(type) {
	case PressDirection:
		// Opposites are exclusive: the later press loses.
		if s.Held.Has(t.Dir.Opposite()) || s.Held.Has(t.Dir) {
			return nil, nil
		}
		s.Held = s.Held.With(t.Dir)
		return deriveNow(s), nil

	case ReleaseDirection:
		if !s.Held.Has(t.Dir) {
			return nil, nil
		}
		s.Held = s.Held.Without(t.Dir)
		return deriveNow(s), nil

	case FirePulse:
		if t.Down {
			return []Command{CmdSend{Command: CommandHorn}}, nil
		}
		return []Command{CmdSend{Command: CommandEndHorn}}, nil

	case FireToggle:
		return fireToggle(s, t.Toggle, at, cfg)

	case RequestDisconnect:
		if s.Conn != StateOpen || s.Cooldowns.Socket.Active(at) {
			return nil, nil
		}
		s.Cooldowns.Socket.Arm(at, cfg.SocketCooldown)
		return []Command{CmdDisconnect{}}, nil

	case RequestConnect:
		if s.Conn == StateOpen || s.Conn == StateConnecting || s.Cooldowns.Socket.Active(at) {
			return nil, nil
		}
		s.Cooldowns.Socket.Arm(at, cfg.SocketCooldown)
		return []Command{CmdConnect{}}, nil
	}
	return nil, nil
}

func deriveNow(s *SessionState) []Command {
	if c, ok := Derive(s.Held, s.LastSent); ok {
		return []Command{CmdSend{Command: c}}
	}
	return nil
}

// fireToggle flips a feature and sends the command for its new state.
// The flip happens even if the link later drops the command; the cooldown
// discards repeats within the window.
func fireToggle(s *SessionState, tg Toggle, at time.Time, cfg EngineConfig) ([]Command, []StateBroadcast) {
	var cmd DriveCommand

	switch tg {
	case ToggleCeiling:
		if !s.Cooldowns.Ceiling.TryArm(at, cfg.CeilingCooldown) {
			return nil, nil
		}
		s.Toggles.CeilingOpen = !s.Toggles.CeilingOpen
		cmd = CommandCloseCeiling
		if s.Toggles.CeilingOpen {
			cmd = CommandOpenCeiling
		}

	case ToggleAutoLight:
		if !s.Cooldowns.AutoLight.TryArm(at, cfg.AutoLightCooldown) {
			return nil, nil
		}
		s.Toggles.AutoLight = !s.Toggles.AutoLight
		cmd = CommandAutoLightOff
		if s.Toggles.AutoLight {
			cmd = CommandAutoLightOn
		}

	default:
		return nil, nil
	}

	bc := BroadcastTogglesChanged{
		CeilingOpen: s.Toggles.CeilingOpen,
		AutoLight:   s.Toggles.AutoLight,
		At:          at,
	}
	return []Command{CmdSend{Command: cmd}}, []StateBroadcast{bc}
}
