package main

// Linux input event types and key codes (from <linux/input-event-codes.h>)
const (
	EV_KEY = 0x01

	KEY_ESC   = 1
	KEY_TAB   = 15
	KEY_ENTER = 28
	KEY_SPACE = 57

	KEY_UP    = 103
	KEY_LEFT  = 105
	KEY_RIGHT = 106
	KEY_DOWN  = 108
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Vehicle link and engine defaults
const (
	defaultVehiclePort        = 9000 // Port the vehicle controller listens on
	defaultHandshakeTimeoutMS = 2000 // Websocket handshake timeout (ms)
	defaultWriteTimeoutMS     = 100  // Per-frame write deadline (ms)

	defaultTickMS = 100 // Derivation tick period (ms)

	// Cooldown windows for debounced actions.
	defaultCeilingCooldownMS   = 2000
	defaultAutoLightCooldownMS = 500
	defaultSocketCooldownMS    = 500

	defaultIPCSocket = "/tmp/rcdrive.sock"
	defaultInputDev  = "/dev/input/event0"

	defaultMQTTTopicPrefix = "rcdrive"
)
