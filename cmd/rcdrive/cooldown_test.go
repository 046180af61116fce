package main

import (
	"testing"
	"time"
)

func TestCooldown_ZeroValueIsInactive(t *testing.T) {
	var c Cooldown
	if c.Active(t0) {
		t.Fatalf("zero cooldown should be inactive")
	}
}

func TestCooldown_TryArmBlocksUntilDeadline(t *testing.T) {
	var c Cooldown

	if !c.TryArm(t0, 500*time.Millisecond) {
		t.Fatalf("first TryArm should succeed")
	}
	if c.TryArm(atMS(499), 500*time.Millisecond) {
		t.Fatalf("TryArm inside the window should fail")
	}
	if c.Until != atMS(500) {
		t.Fatalf("failed TryArm must not move the deadline; got %v", c.Until)
	}

	// The deadline itself is outside the window.
	if !c.TryArm(atMS(500), 500*time.Millisecond) {
		t.Fatalf("TryArm at the deadline should succeed")
	}
	if c.Until != atMS(1000) {
		t.Fatalf("Until = %v; want %v", c.Until, atMS(1000))
	}
}

func TestCooldown_ArmAlwaysRestarts(t *testing.T) {
	var c Cooldown
	c.Arm(t0, time.Second)
	c.Arm(atMS(100), time.Second)
	if !c.Active(atMS(1050)) {
		t.Fatalf("re-armed window should extend past the first deadline")
	}
}
