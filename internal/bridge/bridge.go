// Package bridge mirrors radio events and telemetry to NATS, with an
// optional MQTT copy for external consumers.
package bridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/config"
	"github.com/lorawan-server/lpwan-node/internal/device"
	"github.com/lorawan-server/lpwan-node/internal/event"
)

// Bridge forwards node events and periodic telemetry snapshots.
type Bridge struct {
	cfg  *config.Config
	dev  *device.Device
	nc   *nats.Conn
	mqtt mqtt.Client
}

// EventMessage is the wire form of one radio event notification.
type EventMessage struct {
	ID        uuid.UUID `json:"id"`
	Node      string    `json:"node"`
	Events    []string  `json:"events"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsMessage is the wire form of one telemetry snapshot.
type StatsMessage struct {
	ID        uuid.UUID   `json:"id"`
	Node      string      `json:"node"`
	Stats     interface{} `json:"stats"`
	Timestamp time.Time   `json:"timestamp"`
}

// New creates a bridge over dev. Connections are made in Start.
func New(cfg *config.Config, dev *device.Device) *Bridge {
	return &Bridge{cfg: cfg, dev: dev}
}

// Start connects and forwards until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	nc, err := nats.Connect(b.cfg.NATS.URL,
		nats.MaxReconnects(b.cfg.NATS.MaxReconnects),
		nats.ReconnectWait(b.cfg.NATS.ReconnectInterval),
		nats.Name(b.cfg.Node.Name),
	)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	b.nc = nc
	defer nc.Close()

	if b.cfg.MQTT.Enabled {
		if err := b.connectMQTT(); err != nil {
			log.Error().Err(err).Msg("MQTT connect failed, continuing with NATS only")
		}
	}

	events, cancel := b.dev.Registry().Subscribe()
	defer cancel()

	ticker := time.NewTicker(b.cfg.NATS.PublishInterval)
	defer ticker.Stop()

	log.Info().Str("url", b.cfg.NATS.URL).Msg("telemetry bridge started")

	for {
		select {
		case <-ctx.Done():
			if b.mqtt != nil && b.mqtt.IsConnected() {
				b.mqtt.Disconnect(250)
			}
			return nil
		case m := <-events:
			b.publishEvent(m)
		case <-ticker.C:
			b.publishStats()
		}
	}
}

func (b *Bridge) publishEvent(m event.Mask) {
	msg := EventMessage{
		ID:        uuid.New(),
		Node:      b.cfg.Node.Name,
		Events:    eventNames(m),
		Timestamp: time.Now(),
	}
	b.publish("event", msg)
}

func (b *Bridge) publishStats() {
	msg := StatsMessage{
		ID:        uuid.New(),
		Node:      b.cfg.Node.Name,
		Stats:     b.dev.Stats().Stats(),
		Timestamp: time.Now(),
	}
	b.publish("stats", msg)
}

func (b *Bridge) publish(kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("marshal bridge message")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", b.cfg.NATS.SubjectPrefix, b.cfg.Node.Name, kind)
	if err := b.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("NATS publish failed")
	}

	if b.mqtt != nil && b.mqtt.IsConnected() {
		topic := strings.ReplaceAll(b.cfg.MQTT.TopicPattern, "{node}", b.cfg.Node.Name)
		topic = strings.ReplaceAll(topic, "{kind}", kind)
		token := b.mqtt.Publish(topic, b.cfg.MQTT.QoS, false, data)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}
}

func (b *Bridge) connectMQTT() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.MQTT.BrokerURL)
	opts.SetClientID(fmt.Sprintf("lpwan-node-%s", b.cfg.Node.Name))

	if b.cfg.MQTT.Username != "" {
		opts.SetUsername(b.cfg.MQTT.Username)
		opts.SetPassword(b.cfg.MQTT.Password)
	}
	if b.cfg.MQTT.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return fmt.Errorf("connect MQTT: %w", token.Error())
	}
	b.mqtt = client
	return nil
}

func eventNames(m event.Mask) []string {
	var names []string
	if m&event.RxPacket != 0 {
		names = append(names, "rx_packet")
	}
	if m&event.TxPacket != 0 {
		names = append(names, "tx_packet")
	}
	if m&event.TxFailed != 0 {
		names = append(names, "tx_failed")
	}
	return names
}
