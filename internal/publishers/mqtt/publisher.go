// Package mqtt implements the UTM Telemetry Bridge (component C11): an
// optional, read-only publisher that mirrors the ODID record to an
// MQTT broker for consumption by an external UTM/USS system. Adapted
// from the teacher's MQTT publisher, narrowed from a per-device
// DroneState to the module's single process-wide Record.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ardupilot/remoteid-module/internal/config"
	"github.com/ardupilot/remoteid-module/internal/models"
)

// Publisher implements core.Publisher, bridging the ODID record to MQTT.
type Publisher struct {
	cfg    config.MQTTConfig
	client pahomqtt.Client
	mu     sync.RWMutex
	ready  bool
}

// New creates an MQTT publisher bound to cfg.
func New(cfg config.MQTTConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

// Name implements core.Publisher.
func (p *Publisher) Name() string { return "mqtt" }

// Start implements core.Publisher: connects to the broker and blocks
// until the connection succeeds, fails, or ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	if p.cfg.LWT.Enabled {
		lwtTopic := fmt.Sprintf("%s/%s", p.cfg.LWT.Topic, p.cfg.ClientID)
		opts.SetWill(lwtTopic, p.cfg.LWT.Message, byte(p.cfg.QoS), true)
	}

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		p.mu.Lock()
		p.ready = true
		p.mu.Unlock()

		if p.cfg.LWT.Enabled {
			statusTopic := fmt.Sprintf("%s/%s", p.cfg.LWT.Topic, p.cfg.ClientID)
			c.Publish(statusTopic, byte(p.cfg.QoS), true, "online")
		}
	})

	opts.SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
		p.mu.Lock()
		p.ready = false
		p.mu.Unlock()
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	connected := make(chan struct{})
	go func() {
		token.Wait()
		close(connected)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-connected:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}

	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connection failed: %w", token.Error())
	}
	return nil
}

// recordPayload is the wire shape published to MQTT: the full Record
// plus a wall-clock timestamp, since Record itself carries only
// monotonic per-group update times.
type recordPayload struct {
	Timestamp int64         `json:"timestamp"`
	Record    models.Record `json:"record"`
}

// Publish implements core.Publisher: mirrors the current Record to
// "{prefix}/record" as JSON. Non-blocking: the returned error covers
// only a missing connection or a marshal failure; a broker-side publish
// failure is not reported to the caller.
func (p *Publisher) Publish(rec models.Record) error {
	p.mu.RLock()
	ready := p.ready
	p.mu.RUnlock()

	if !ready {
		return fmt.Errorf("mqtt client not connected")
	}

	payload, err := json.Marshal(recordPayload{Timestamp: time.Now().Unix(), Record: rec})
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	topic := fmt.Sprintf("%s/record", p.cfg.TopicPrefix)
	token := p.client.Publish(topic, byte(p.cfg.QoS), false, payload)

	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			_ = token.Error()
		}
	}()

	return nil
}

// Stop implements core.Publisher.
func (p *Publisher) Stop() error {
	if p.client != nil && p.client.IsConnected() {
		if p.cfg.LWT.Enabled {
			statusTopic := fmt.Sprintf("%s/%s", p.cfg.LWT.Topic, p.cfg.ClientID)
			token := p.client.Publish(statusTopic, byte(p.cfg.QoS), true, "offline")
			token.WaitTimeout(2 * time.Second)
		}
		p.client.Disconnect(1000)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}
