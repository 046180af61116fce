package main

import (
	"fmt"
	"sort"
	"strings"
)

// Key is an operator input identifier, independent of where it came from
// (evdev keyboard, GPIO button, IPC).
type Key int

const (
	KeyNone Key = iota
	KeyArrowUp
	KeyArrowDown
	KeyArrowLeft
	KeyArrowRight
	KeyHorn
	KeyCeiling
	KeyAutoLight
	KeyDisconnect
	KeyReconnect
)

var keyNames = map[Key]string{
	KeyArrowUp:    "up",
	KeyArrowDown:  "down",
	KeyArrowLeft:  "left",
	KeyArrowRight: "right",
	KeyHorn:       "horn",
	KeyCeiling:    "ceiling",
	KeyAutoLight:  "auto_light",
	KeyDisconnect: "disconnect",
	KeyReconnect:  "reconnect",
}

func (k Key) String() string {
	if s, ok := keyNames[k]; ok {
		return s
	}
	return "none"
}

// ParseKey converts an action name ("up", "horn", ...) to a Key.
func ParseKey(s string) (Key, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range keyNames {
		if n == name {
			return k, nil
		}
	}
	return KeyNone, fmt.Errorf("unknown key %q (must be one of: %s)", s, strings.Join(keyNameList(), ", "))
}

func keyNameList() []string {
	names := make([]string, 0, len(keyNames))
	for _, n := range keyNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Direction is one of the four drive directions held in the HeldKeySet.
type Direction uint8

const (
	DirUp Direction = 1 << iota
	DirDown
	DirLeft
	DirRight
)

// Opposite returns the mutually exclusive partner of d.
func (d Direction) Opposite() Direction {
	switch d {
	case DirUp:
		return DirDown
	case DirDown:
		return DirUp
	case DirLeft:
		return DirRight
	case DirRight:
		return DirLeft
	}
	return 0
}

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	}
	return "none"
}

// Toggle identifies a cooldown-guarded feature toggle.
type Toggle int

const (
	ToggleCeiling Toggle = iota + 1
	ToggleAutoLight
)

// ============================================================================
// Transitions
// ============================================================================
// A Transition is the typed meaning of a key edge. The reducer only ever sees
// transitions; raw encodings stop at TransitionFor.
// ============================================================================

type Transition interface {
	transitionMarker()
}

type PressDirection struct{ Dir Direction }
type ReleaseDirection struct{ Dir Direction }

// FirePulse is a momentary action; Down is false on release.
type FirePulse struct{ Down bool }

type FireToggle struct{ Toggle Toggle }

type RequestConnect struct{}
type RequestDisconnect struct{}

func (PressDirection) transitionMarker()    {}
func (ReleaseDirection) transitionMarker()  {}
func (FirePulse) transitionMarker()         {}
func (FireToggle) transitionMarker()        {}
func (RequestConnect) transitionMarker()    {}
func (RequestDisconnect) transitionMarker() {}

// TransitionFor maps a key edge to its transition. ok is false when the edge
// has no meaning (for example releasing a toggle key).
func TransitionFor(k Key, down bool) (Transition, bool) {
	switch k {
	case KeyArrowUp, KeyArrowDown, KeyArrowLeft, KeyArrowRight:
		d := directionOf(k)
		if down {
			return PressDirection{Dir: d}, true
		}
		return ReleaseDirection{Dir: d}, true
	case KeyHorn:
		return FirePulse{Down: down}, true
	case KeyCeiling:
		if down {
			return FireToggle{Toggle: ToggleCeiling}, true
		}
	case KeyAutoLight:
		if down {
			return FireToggle{Toggle: ToggleAutoLight}, true
		}
	case KeyDisconnect:
		if down {
			return RequestDisconnect{}, true
		}
	case KeyReconnect:
		if down {
			return RequestConnect{}, true
		}
	}
	return nil, false
}

func directionOf(k Key) Direction {
	switch k {
	case KeyArrowUp:
		return DirUp
	case KeyArrowDown:
		return DirDown
	case KeyArrowLeft:
		return DirLeft
	case KeyArrowRight:
		return DirRight
	}
	return 0
}

// ============================================================================
// evdev key map
// ============================================================================

// evdevKeyCodes names the evdev codes accepted in input.keymap.
var evdevKeyCodes = map[string]uint16{
	"KEY_ESC": KEY_ESC, "KEY_TAB": KEY_TAB, "KEY_ENTER": KEY_ENTER, "KEY_SPACE": KEY_SPACE,
	"KEY_UP": KEY_UP, "KEY_DOWN": KEY_DOWN, "KEY_LEFT": KEY_LEFT, "KEY_RIGHT": KEY_RIGHT,

	"KEY_Q": 16, "KEY_W": 17, "KEY_E": 18, "KEY_R": 19, "KEY_T": 20,
	"KEY_Y": 21, "KEY_U": 22, "KEY_I": 23, "KEY_O": 24, "KEY_P": 25,
	"KEY_A": 30, "KEY_S": 31, "KEY_D": 32, "KEY_F": 33, "KEY_G": 34,
	"KEY_H": 35, "KEY_J": 36, "KEY_K": 37, "KEY_L": 38,
	"KEY_Z": 44, "KEY_X": 45, "KEY_C": 46, "KEY_V": 47, "KEY_B": 48,
	"KEY_N": 49, "KEY_M": 50,
}

// DefaultKeymap is the classic binding: arrows drive, space honks, X ceiling,
// D auto-light, ESC disconnect, R reconnect.
func DefaultKeymap() map[string]string {
	return map[string]string{
		"KEY_UP":    "up",
		"KEY_DOWN":  "down",
		"KEY_LEFT":  "left",
		"KEY_RIGHT": "right",
		"KEY_SPACE": "horn",
		"KEY_X":     "ceiling",
		"KEY_D":     "auto_light",
		"KEY_ESC":   "disconnect",
		"KEY_R":     "reconnect",
	}
}

// KeyMap resolves evdev key codes to Keys.
type KeyMap map[uint16]Key

// BuildKeyMap compiles a name map (evdev key name -> action name).
func BuildKeyMap(names map[string]string) (KeyMap, error) {
	km := make(KeyMap, len(names))
	for evName, action := range names {
		code, ok := evdevKeyCodes[strings.ToUpper(evName)]
		if !ok {
			return nil, fmt.Errorf("unknown evdev key name %q", evName)
		}
		k, err := ParseKey(action)
		if err != nil {
			return nil, fmt.Errorf("keymap %s: %w", evName, err)
		}
		km[code] = k
	}
	return km, nil
}

// Translate converts a raw evdev event into a key edge. Repeats and non-key
// events are dropped.
func (km KeyMap) Translate(ev inputEvent) (Event, bool) {
	if ev.Type != EV_KEY {
		return nil, false
	}
	k, ok := km[ev.Code]
	if !ok {
		return nil, false
	}
	switch ev.Value {
	case evValuePress:
		return KeyDown{Key: k}, true
	case evValueRelease:
		return KeyUp{Key: k}, true
	default:
		return nil, false
	}
}
