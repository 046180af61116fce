package main

import "fmt"

// ==============================
// Command vocabulary (wire tokens)
// ==============================

// DriveCommand is one token of the vehicle protocol. Tokens are sent as-is,
// one per websocket text frame, and are case-sensitive.
type DriveCommand string

const (
	CommandForward       DriveCommand = "FORWARD"
	CommandBackward      DriveCommand = "BACKWARD"
	CommandLeft          DriveCommand = "LEFT"
	CommandRight         DriveCommand = "RIGHT"
	CommandForwardLeft   DriveCommand = "FORWARD_LEFT"
	CommandForwardRight  DriveCommand = "FORWARD_RIGHT"
	CommandBackwardLeft  DriveCommand = "BACKWARD_LEFT"
	CommandBackwardRight DriveCommand = "BACKWARD_RIGHT"
	CommandStop          DriveCommand = "STOP"

	CommandHorn    DriveCommand = "HORN"
	CommandEndHorn DriveCommand = "END_HORN"

	CommandOpenCeiling  DriveCommand = "OPEN_CEILING"
	CommandCloseCeiling DriveCommand = "CLOSE_CEILING"
	CommandAutoLightOn  DriveCommand = "ON_AUTO_LIGHT"
	CommandAutoLightOff DriveCommand = "OFF_AUTO_LIGHT"

	// CommandInit is the LastSent sentinel before anything was sent.
	// It is never transmitted.
	CommandInit DriveCommand = "INIT"
)

// IsHoldOver reports whether c is a pulse/toggle command (or the INIT
// sentinel). A neutral key set following one of these does not produce STOP.
func (c DriveCommand) IsHoldOver() bool {
	switch c {
	case CommandHorn, CommandEndHorn,
		CommandOpenCeiling, CommandCloseCeiling,
		CommandAutoLightOn, CommandAutoLightOff,
		CommandInit:
		return true
	default:
		return false
	}
}

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
// In this codebase, those are vehicle link operations and status replies.
type Command interface {
	commandMarker()
	String() string
}

// CmdSend transmits one token over the vehicle link.
type CmdSend struct {
	Command DriveCommand
}

func (CmdSend) commandMarker() {}
func (c CmdSend) String() string {
	return fmt.Sprintf("CmdSend(%s)", c.Command)
}

// CmdConnect opens a session to the configured vehicle host.
type CmdConnect struct{}

func (CmdConnect) commandMarker() {}
func (CmdConnect) String() string { return "CmdConnect()" }

// CmdDisconnect closes the current session.
type CmdDisconnect struct{}

func (CmdDisconnect) commandMarker() {}
func (CmdDisconnect) String() string { return "CmdDisconnect()" }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
