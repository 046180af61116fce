package main

// Derive returns the command that should be in effect for the held keys.
//
// Priority, first match wins: forward diagonals, forward, backward diagonals,
// backward, left, right. With no key held it yields STOP, except when the
// last sent command is a hold-over (pulse, toggle, INIT) or already STOP; in
// that case ok is false and nothing should be sent.
//
// Opposite directions are never held together, so the drive cases cannot overlap.
func Derive(held HeldKeySet, last DriveCommand) (cmd DriveCommand, ok bool) {
	up, down := held.Has(DirUp), held.Has(DirDown)
	left, right := held.Has(DirLeft), held.Has(DirRight)

	switch {
	case up && left:
		return CommandForwardLeft, true
	case up && right:
		return CommandForwardRight, true
	case up:
		return CommandForward, true
	case down && left:
		return CommandBackwardLeft, true
	case down && right:
		return CommandBackwardRight, true
	case down:
		return CommandBackward, true
	case left:
		return CommandLeft, true
	case right:
		return CommandRight, true
	}

	if last == CommandStop || last.IsHoldOver() {
		return "", false
	}
	return CommandStop, true
}
