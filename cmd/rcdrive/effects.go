package main

import (
	"errors"
	"log/slog"
)

// runEffect executes a single reducer-emitted Command (side effect) against the
// vehicle link and emits an observation Event via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
// - The daemon loop is responsible for sequencing: Reduce -> Commands -> runEffect -> Events -> Reduce.
func runEffect(
	link VehicleLink,
	host string,
	cmd Command,
	clock Clock,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	now := clock.Now()

	if link == nil {
		if c, ok := cmd.(CmdSend); ok {
			onEvent(CommandDropped{Command: c.Command, Err: errNoLink{}, At: now})
		}
		return
	}

	switch c := cmd.(type) {
	case CmdSend:
		err := link.Send(c.Command)
		if err == nil {
			logger.Debug("sent", "command", string(c.Command))
			onEvent(CommandSent{Command: c.Command, At: now})
			return
		}

		onEvent(CommandDropped{Command: c.Command, Err: err, At: now})
		if errors.Is(err, ErrNotOpen) {
			logger.Debug("command dropped", "command", string(c.Command), "reason", err)
			return
		}
		// Write failure: the link has already moved to ERRORED.
		logger.Error("vehicle send failed", "command", string(c.Command), "error", err)
		onEvent(ConnectionObserved{State: link.Status(), Err: err, Session: link.Session(), At: now})

	case CmdConnect:
		st := link.Connect(host)
		onEvent(ConnectionObserved{State: st, Session: link.Session(), At: now})

	case CmdDisconnect:
		st := link.Disconnect()
		onEvent(ConnectionObserved{State: st, Session: link.Session(), At: now})

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		// This keeps the reducer pure by moving the channel send into the effects layer.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the effects worker indefinitely.
		select {
		case c.Reply <- c.Snapshot:
			// delivered
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String(), "error", errUnknownCommand{cmd: cmd})
	}
}

// errNoLink indicates the daemon was asked to send without a vehicle link.
type errNoLink struct{}

func (errNoLink) Error() string { return "no vehicle link" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
