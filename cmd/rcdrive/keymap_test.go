package main

import (
	"strings"
	"testing"
)

func TestTransitionFor(t *testing.T) {
	cases := []struct {
		key  Key
		down bool
		want Transition
		ok   bool
	}{
		{KeyArrowUp, true, PressDirection{Dir: DirUp}, true},
		{KeyArrowUp, false, ReleaseDirection{Dir: DirUp}, true},
		{KeyArrowLeft, true, PressDirection{Dir: DirLeft}, true},
		{KeyArrowRight, false, ReleaseDirection{Dir: DirRight}, true},
		{KeyHorn, true, FirePulse{Down: true}, true},
		{KeyHorn, false, FirePulse{Down: false}, true},
		{KeyCeiling, true, FireToggle{Toggle: ToggleCeiling}, true},
		{KeyCeiling, false, nil, false},
		{KeyAutoLight, true, FireToggle{Toggle: ToggleAutoLight}, true},
		{KeyAutoLight, false, nil, false},
		{KeyDisconnect, true, RequestDisconnect{}, true},
		{KeyDisconnect, false, nil, false},
		{KeyReconnect, true, RequestConnect{}, true},
		{KeyReconnect, false, nil, false},
		{KeyNone, true, nil, false},
	}

	for _, tc := range cases {
		got, ok := TransitionFor(tc.key, tc.down)
		if ok != tc.ok || got != tc.want {
			t.Errorf("TransitionFor(%s, %v) = %#v, %v; want %#v, %v", tc.key, tc.down, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDirection_Opposite(t *testing.T) {
	pairs := map[Direction]Direction{DirUp: DirDown, DirDown: DirUp, DirLeft: DirRight, DirRight: DirLeft}
	for d, want := range pairs {
		if got := d.Opposite(); got != want {
			t.Errorf("%s.Opposite() = %s; want %s", d, got, want)
		}
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey(" Auto_Light ")
	if err != nil || k != KeyAutoLight {
		t.Fatalf("ParseKey = %v, %v; want auto_light", k, err)
	}

	_, err = ParseKey("turbo")
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "auto_light, ceiling") {
		t.Fatalf("error should list valid keys; got %v", err)
	}
}

func TestBuildKeyMap_Default(t *testing.T) {
	km, err := BuildKeyMap(DefaultKeymap())
	if err != nil {
		t.Fatalf("BuildKeyMap: %v", err)
	}

	want := map[uint16]Key{
		KEY_UP:    KeyArrowUp,
		KEY_DOWN:  KeyArrowDown,
		KEY_LEFT:  KeyArrowLeft,
		KEY_RIGHT: KeyArrowRight,
		KEY_SPACE: KeyHorn,
		45:        KeyCeiling,   // X
		32:        KeyAutoLight, // D
		KEY_ESC:   KeyDisconnect,
		19:        KeyReconnect, // R
	}
	if len(km) != len(want) {
		t.Fatalf("keymap has %d entries; want %d", len(km), len(want))
	}
	for code, k := range want {
		if km[code] != k {
			t.Errorf("code %d -> %s; want %s", code, km[code], k)
		}
	}
}

func TestBuildKeyMap_Errors(t *testing.T) {
	if _, err := BuildKeyMap(map[string]string{"KEY_NOPE": "up"}); err == nil {
		t.Fatalf("expected error for unknown evdev name")
	}
	if _, err := BuildKeyMap(map[string]string{"KEY_W": "jump"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}

	km, err := BuildKeyMap(map[string]string{"key_w": "up"})
	if err != nil {
		t.Fatalf("lowercase evdev names should be accepted: %v", err)
	}
	if km[17] != KeyArrowUp {
		t.Fatalf("KEY_W should map to up")
	}
}

func TestKeyMap_Translate(t *testing.T) {
	km := KeyMap{KEY_UP: KeyArrowUp}

	cases := []struct {
		name string
		ev   inputEvent
		want Event
		ok   bool
	}{
		{"press", inputEvent{Type: EV_KEY, Code: KEY_UP, Value: evValuePress}, KeyDown{Key: KeyArrowUp}, true},
		{"release", inputEvent{Type: EV_KEY, Code: KEY_UP, Value: evValueRelease}, KeyUp{Key: KeyArrowUp}, true},
		{"repeat", inputEvent{Type: EV_KEY, Code: KEY_UP, Value: evValueRepeat}, nil, false},
		{"unmapped", inputEvent{Type: EV_KEY, Code: KEY_TAB, Value: evValuePress}, nil, false},
		{"not a key", inputEvent{Type: 0x02, Code: KEY_UP, Value: evValuePress}, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := km.Translate(tc.ev)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Translate = %#v, %v; want %#v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
