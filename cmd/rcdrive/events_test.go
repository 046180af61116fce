package main

import (
	"strings"
	"testing"
)

func TestUnmarshalEvent_KeyEdges(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"key_down","data":{"key":"horn"}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if ev != (KeyDown{Key: KeyHorn}) {
		t.Fatalf("got %#v; want KeyDown{horn}", ev)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"key_up","data":{"key":"left"}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if ev != (KeyUp{Key: KeyArrowLeft}) {
		t.Fatalf("got %#v; want KeyUp{left}", ev)
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	cases := map[string]string{
		"bad json":     `{"type":`,
		"unknown type": `{"type":"tick"}`,
		"unknown key":  `{"type":"key_down","data":{"key":"turbo"}}`,
		"bad payload":  `{"type":"key_up","data":{"key":5}}`,
		"missing data": `{"type":"key_down"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := UnmarshalEvent([]byte(in)); err == nil {
				t.Fatalf("expected error for %s", in)
			}
		})
	}
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(KeyDown{Key: KeyAutoLight})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if got, want := string(data), `{"type":"key_down","data":{"key":"auto_light"}}`; got != want {
		t.Fatalf("got %s; want %s", got, want)
	}

	if _, err := MarshalEvent(Tick{}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if _, err := MarshalEvent(KeyUp{}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
