package main

import "time"

// SessionState is the daemon-owned state of one control session.
//
// Only the daemon goroutine touches it. The reducer receives it, mutates it and
// hands it back; everything else sees StateSnapshot copies.
type SessionState struct {
	// Held is the set of directional keys currently down.
	Held HeldKeySet

	// LastSent is the last token the transport accepted, CommandInit before the first.
	LastSent   DriveCommand
	LastSentAt time.Time

	Toggles   FeatureToggles
	Cooldowns SessionCooldowns

	// Conn mirrors the Connection Manager's state. It is only updated from
	// ConnectionObserved events.
	Conn        ConnectionState
	ConnErr     string
	ConnSession uint64

	// Dropped counts tokens discarded because the link was not open.
	Dropped uint64
}

// FeatureToggles are the operator-controlled vehicle features.
type FeatureToggles struct {
	CeilingOpen bool
	AutoLight   bool
}

// SessionCooldowns holds one window per debounced action.
type SessionCooldowns struct {
	Ceiling   Cooldown
	AutoLight Cooldown
	Socket    Cooldown
}

// NewSessionState returns the state of a session that has not sent anything yet.
// Auto-light starts on and the ceiling starts open, so the first ceiling
// press sends CLOSE_CEILING.
func NewSessionState() *SessionState {
	return &SessionState{
		LastSent: CommandInit,
		Toggles: FeatureToggles{
			CeilingOpen: true,
			AutoLight:   true,
		},
		Conn: StateDisconnected,
	}
}

// HeldKeySet is a bit set of Directions.
type HeldKeySet uint8

func (s HeldKeySet) Has(d Direction) bool { return s&HeldKeySet(d) != 0 }
func (s HeldKeySet) Empty() bool          { return s == 0 }

// With returns the set plus d.
func (s HeldKeySet) With(d Direction) HeldKeySet { return s | HeldKeySet(d) }

// Without returns the set minus d.
func (s HeldKeySet) Without(d Direction) HeldKeySet { return s &^ HeldKeySet(d) }

// Names lists the held directions in a stable order, for status output.
func (s HeldKeySet) Names() []string {
	names := []string{}
	for _, d := range []Direction{DirUp, DirDown, DirLeft, DirRight} {
		if s.Has(d) {
			names = append(names, d.String())
		}
	}
	return names
}

// StateSnapshot is an immutable copy of the session for status consumers.
type StateSnapshot struct {
	Connection  string    `json:"connection"`
	ConnError   string    `json:"connection_error,omitempty"`
	HeldKeys    []string  `json:"held_keys"`
	CeilingOpen bool      `json:"ceiling_open"`
	AutoLight   bool      `json:"auto_light"`
	LastCommand string    `json:"last_command"`
	LastSentAt  time.Time `json:"last_sent_at"`
	Dropped     uint64    `json:"dropped"`
}

// Snapshot copies the state into a StateSnapshot.
func (s *SessionState) Snapshot() StateSnapshot {
	return StateSnapshot{
		Connection:  s.Conn.String(),
		ConnError:   s.ConnErr,
		HeldKeys:    s.Held.Names(),
		CeilingOpen: s.Toggles.CeilingOpen,
		AutoLight:   s.Toggles.AutoLight,
		LastCommand: string(s.LastSent),
		LastSentAt:  s.LastSentAt,
		Dropped:     s.Dropped,
	}
}
