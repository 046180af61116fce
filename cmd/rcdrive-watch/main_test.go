package main

import (
	"strings"
	"testing"
)

func TestFormatFrame(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"type":"connection_changed","data":{"state":"open"}}`, "[LINK] open"},
		{`{"type":"connection_changed","data":{"state":"errored","error":"refused"}}`, "[LINK] errored (refused)"},
		{`{"type":"held_keys_changed","data":{"keys":["up","left"]}}`, "[KEYS] up+left"},
		{`{"type":"last_command_changed","data":{"command":"FORWARD_LEFT"}}`, "[SENT] FORWARD_LEFT"},
		{`{"type":"toggles_changed","data":{"ceiling_open":true,"auto_light":false}}`, "[TOGGLES] ceiling_open=true auto_light=false"},
		{`{"type":"mystery","data":{"x":1}}`, `[MYSTERY] {"x":1}`},
		{`not json`, "[TEXT] not json"},
	}
	for _, tc := range cases {
		if got := formatFrame([]byte(tc.in)); got != tc.want {
			t.Errorf("formatFrame(%s) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatFrame_StateInit(t *testing.T) {
	in := `{"type":"state_init","ts":"2026-01-02T10:00:00Z","data":{"connection":"open","held_keys":[],"ceiling_open":false,"auto_light":true,"last_command":"INIT","dropped":0}}`
	got := formatFrame([]byte(in))
	if !strings.Contains(got, "[INIT] connection=open") || !strings.Contains(got, "last=INIT") {
		t.Fatalf("formatFrame = %q", got)
	}
}
