package main

import "time"

// Clock supplies the time stamped onto events entering the daemon loop.
// Tests inject a manual clock so cooldown windows are deterministic.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Cooldown blocks re-triggering an action until a deadline passes.
// The zero value is inactive.
type Cooldown struct {
	Until time.Time
}

// Active reports whether the window is still open at now.
func (c Cooldown) Active(now time.Time) bool {
	return now.Before(c.Until)
}

// Arm starts a new window of length d at now.
func (c *Cooldown) Arm(now time.Time, d time.Duration) {
	c.Until = now.Add(d)
}

// TryArm arms the cooldown and returns true unless a window is already open.
func (c *Cooldown) TryArm(now time.Time, d time.Duration) bool {
	if c.Active(now) {
		return false
	}
	c.Arm(now, d)
	return true
}
