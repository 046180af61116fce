package main

import "time"

// StateBroadcast is a reducer-emitted notification for status consumers
// (status WS, MQTT, link LED). Broadcasts carry copies, never state pointers.
type StateBroadcast interface {
	broadcastMarker()
}

type BroadcastConnectionChanged struct {
	State ConnectionState
	Err   string
	At    time.Time
}

type BroadcastHeldKeysChanged struct {
	Keys []string
	At   time.Time
}

type BroadcastTogglesChanged struct {
	CeilingOpen bool
	AutoLight   bool
	At          time.Time
}

type BroadcastLastCommandChanged struct {
	Command DriveCommand
	At      time.Time
}

func (BroadcastConnectionChanged) broadcastMarker()  {}
func (BroadcastHeldKeysChanged) broadcastMarker()    {}
func (BroadcastTogglesChanged) broadcastMarker()     {}
func (BroadcastLastCommandChanged) broadcastMarker() {}
