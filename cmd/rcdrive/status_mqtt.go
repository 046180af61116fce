package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// StatusPublisher publishes the session status to a broker.
type StatusPublisher interface {
	// PublishState sends the retained JSON status document.
	PublishState(payload []byte) error

	// PublishAvailability sends the retained "online"/"offline" marker.
	PublishAvailability(online bool) error

	Close() error
}

// mqttStatus is the retained document on <prefix>/state.
type mqttStatus struct {
	Connection  string    `json:"connection"`
	ConnError   string    `json:"connection_error,omitempty"`
	HeldKeys    []string  `json:"held_keys"`
	CeilingOpen bool      `json:"ceiling_open"`
	AutoLight   bool      `json:"auto_light"`
	LastCommand string    `json:"last_command"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newMQTTStatus() mqttStatus {
	snap := NewSessionState().Snapshot()
	return mqttStatus{
		Connection:  snap.Connection,
		HeldKeys:    snap.HeldKeys,
		CeilingOpen: snap.CeilingOpen,
		AutoLight:   snap.AutoLight,
		LastCommand: snap.LastCommand,
	}
}

// apply folds one broadcast into the document.
func (m *mqttStatus) apply(b StateBroadcast) bool {
	switch ev := b.(type) {
	case BroadcastConnectionChanged:
		m.Connection = ev.State.String()
		m.ConnError = ev.Err
		m.UpdatedAt = ev.At
	case BroadcastHeldKeysChanged:
		m.HeldKeys = ev.Keys
		m.UpdatedAt = ev.At
	case BroadcastTogglesChanged:
		m.CeilingOpen = ev.CeilingOpen
		m.AutoLight = ev.AutoLight
		m.UpdatedAt = ev.At
	case BroadcastLastCommandChanged:
		m.LastCommand = string(ev.Command)
		m.UpdatedAt = ev.At
	default:
		return false
	}
	return true
}

// runStatusPublisher mirrors broadcasts into a retained status document and
// publishes it after every change. Publish errors are logged, never fatal.
func runStatusPublisher(ctx context.Context, pub StatusPublisher, src <-chan StateBroadcast, logger *slog.Logger) {
	if pub == nil || src == nil {
		return
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("mqtt close failed", "error", err)
		}
	}()

	if err := pub.PublishAvailability(true); err != nil {
		logger.Warn("mqtt availability publish failed", "error", err)
	}

	doc := newMQTTStatus()
	for {
		select {
		case <-ctx.Done():
			return

		case b, ok := <-src:
			if !ok {
				return
			}
			if !doc.apply(b) {
				continue
			}
			payload, err := json.Marshal(doc)
			if err != nil {
				logger.Warn("mqtt status marshal failed", "error", err)
				continue
			}
			if err := pub.PublishState(payload); err != nil {
				logger.Warn("mqtt status publish failed", "error", err)
			}
		}
	}
}

// ============================================================================
// paho-backed publisher
// ============================================================================

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

type mqttPublisher struct {
	client paho.Client
	prefix string
}

// newMQTTPublisher connects to the broker. The broker publishes "offline" on
// <prefix>/availability if the daemon disappears without a clean close.
func newMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) (*mqttPublisher, error) {
	availTopic := cfg.TopicPrefix + "/availability"

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availTopic, availabilityOffline, 1, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(c paho.Client) {
			logger.Info("mqtt connected", "broker", cfg.Broker)
			// Restore the marker the will may have replaced.
			c.Publish(availTopic, 1, true, availabilityOnline)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &mqttPublisher{client: client, prefix: cfg.TopicPrefix}, nil
}

func (p *mqttPublisher) publish(topic string, qos byte, payload any) error {
	token := p.client.Publish(topic, qos, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *mqttPublisher) PublishState(payload []byte) error {
	// QoS 0: a lost update is replaced by the next one.
	return p.publish(p.prefix+"/state", 0, payload)
}

func (p *mqttPublisher) PublishAvailability(online bool) error {
	v := availabilityOffline
	if online {
		v = availabilityOnline
	}
	return p.publish(p.prefix+"/availability", 1, v)
}

// Close marks the daemon offline and disconnects.
func (p *mqttPublisher) Close() error {
	err := p.PublishAvailability(false)
	p.client.Disconnect(250)
	return err
}
