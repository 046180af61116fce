package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the rcdrive daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. The vehicle host is fixed for the process lifetime.
type Config struct {
	Vehicle VehicleConfig    `yaml:"vehicle"`
	Engine  EngineFileConfig `yaml:"engine"`
	Input   InputConfig      `yaml:"input"`
	GPIO    GPIOConfig       `yaml:"gpio"`
	IPC     IPCConfig        `yaml:"ipc"`
	Status  StatusConfig     `yaml:"status"`
	MQTT    MQTTConfig       `yaml:"mqtt"`
	Logging LoggingConfig    `yaml:"logging"`
}

type VehicleConfig struct {
	// Host is the vehicle's dotted-quad IPv4 address.
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms"`
	WriteTimeoutMS     int    `yaml:"write_timeout_ms"`
}

// EngineFileConfig is the user-facing command engine configuration.
type EngineFileConfig struct {
	TickMS              int `yaml:"tick_ms"`
	CeilingCooldownMS   int `yaml:"ceiling_cooldown_ms"`
	AutoLightCooldownMS int `yaml:"auto_light_cooldown_ms"`
	SocketCooldownMS    int `yaml:"socket_cooldown_ms"`
}

type InputConfig struct {
	Devices []string `yaml:"devices"`

	// Keymap maps evdev key names (KEY_UP, KEY_SPACE, ...) to action names.
	// When empty the default map is used.
	Keymap map[string]string `yaml:"keymap,omitempty"`
}

type GPIOConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Chip       string         `yaml:"chip"`
	DebounceMS int            `yaml:"debounce_ms"`
	Buttons    []GPIOButton   `yaml:"buttons,omitempty"`
	StatusLED  *GPIOLEDConfig `yaml:"status_led,omitempty"`
}

type GPIOButton struct {
	Line      int    `yaml:"line"`
	Key       string `yaml:"key"`
	ActiveLow bool   `yaml:"active_low"`
}

type GPIOLEDConfig struct {
	Line int `yaml:"line"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Journal bool   `yaml:"journal"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Vehicle: VehicleConfig{
			Port:               defaultVehiclePort,
			HandshakeTimeoutMS: defaultHandshakeTimeoutMS,
			WriteTimeoutMS:     defaultWriteTimeoutMS,
		},
		Engine: EngineFileConfig{
			TickMS:              defaultTickMS,
			CeilingCooldownMS:   defaultCeilingCooldownMS,
			AutoLightCooldownMS: defaultAutoLightCooldownMS,
			SocketCooldownMS:    defaultSocketCooldownMS,
		},
		Input: InputConfig{
			Devices: []string{defaultInputDev},
		},
		GPIO: GPIOConfig{
			Chip:       "gpiochip0",
			DebounceMS: 10,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		Status: StatusConfig{
			Enabled: true,
			Listen:  "127.0.0.1:3001",
			Path:    "/ws",
		},
		MQTT: MQTTConfig{
			ClientID:    "rcdrive",
			TopicPrefix: defaultMQTTTopicPrefix,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the first document. A yaml.Node
	// accepts any shape, so anything but io.EOF means a second document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer is
// non-nil. main.go decides which flags exist.
type FlagOverrides struct {
	Host         *string
	Port         *int
	InputDevices []string
	LogLevel     *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Host != nil {
		cfg.Vehicle.Host = *o.Host
	}
	if o.Port != nil {
		cfg.Vehicle.Port = *o.Port
	}
	if len(o.InputDevices) > 0 {
		cfg.Input.Devices = append([]string(nil), o.InputDevices...)
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Vehicle
	if err := validateHost(c.Vehicle.Host); err != nil {
		return fmt.Errorf("vehicle.host: %w", err)
	}
	if c.Vehicle.Port <= 0 || c.Vehicle.Port > 65535 {
		return errors.New("vehicle.port must be between 1 and 65535")
	}
	if c.Vehicle.HandshakeTimeoutMS <= 0 {
		return errors.New("vehicle.handshake_timeout_ms must be > 0")
	}
	if c.Vehicle.WriteTimeoutMS <= 0 {
		return errors.New("vehicle.write_timeout_ms must be > 0")
	}

	// Engine
	if c.Engine.TickMS < 10 || c.Engine.TickMS > 10000 {
		return errors.New("engine.tick_ms must be between 10 and 10000")
	}
	if c.Engine.CeilingCooldownMS < 0 {
		return errors.New("engine.ceiling_cooldown_ms must be >= 0")
	}
	if c.Engine.AutoLightCooldownMS < 0 {
		return errors.New("engine.auto_light_cooldown_ms must be >= 0")
	}
	if c.Engine.SocketCooldownMS < 0 {
		return errors.New("engine.socket_cooldown_ms must be >= 0")
	}

	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if len(c.Input.Keymap) > 0 {
		if _, err := BuildKeyMap(c.Input.Keymap); err != nil {
			return fmt.Errorf("input.keymap: %w", err)
		}
	}

	// GPIO
	if c.GPIO.Enabled {
		if c.GPIO.Chip == "" {
			return errors.New("gpio.enabled is true but gpio.chip is empty")
		}
		if c.GPIO.DebounceMS < 0 {
			return errors.New("gpio.debounce_ms must be >= 0")
		}
		seen := map[int]bool{}
		for i, b := range c.GPIO.Buttons {
			if b.Line < 0 {
				return fmt.Errorf("gpio.buttons[%d].line must be >= 0", i)
			}
			if seen[b.Line] {
				return fmt.Errorf("gpio.buttons[%d]: line %d used twice", i, b.Line)
			}
			seen[b.Line] = true
			if _, err := ParseKey(b.Key); err != nil {
				return fmt.Errorf("gpio.buttons[%d].key: %w", i, err)
			}
		}
		if led := c.GPIO.StatusLED; led != nil {
			if led.Line < 0 {
				return errors.New("gpio.status_led.line must be >= 0")
			}
			if seen[led.Line] {
				return fmt.Errorf("gpio.status_led: line %d is also a button", led.Line)
			}
		}
	}

	// Status
	if c.Status.Enabled {
		if c.Status.Listen == "" {
			return errors.New("status.enabled is true but status.listen is empty")
		}
		if !strings.HasPrefix(c.Status.Path, "/") {
			return errors.New("status.path must start with /")
		}
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
		if strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
			return errors.New("mqtt.topic_prefix must not contain wildcards")
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// validateHost accepts only a dotted-quad IPv4 address.
func validateHost(host string) error {
	if host == "" {
		return errors.New("must not be empty")
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("%q is not an IPv4 address", host)
	}
	return nil
}

// ToEngineConfig converts the file config into the reducer's timing config.
func (c *Config) ToEngineConfig() EngineConfig {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return EngineConfig{
		TickInterval:      ms(c.Engine.TickMS),
		CeilingCooldown:   ms(c.Engine.CeilingCooldownMS),
		AutoLightCooldown: ms(c.Engine.AutoLightCooldownMS),
		SocketCooldown:    ms(c.Engine.SocketCooldownMS),
	}
}

// ToConnectionOptions converts the vehicle section into link options.
func (c *Config) ToConnectionOptions(notify LinkNotifyFunc) ConnectionOptions {
	return ConnectionOptions{
		Port:             c.Vehicle.Port,
		HandshakeTimeout: time.Duration(c.Vehicle.HandshakeTimeoutMS) * time.Millisecond,
		WriteTimeout:     time.Duration(c.Vehicle.WriteTimeoutMS) * time.Millisecond,
		Notify:           notify,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
