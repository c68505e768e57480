package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/voicebox-boards/epd-board-controller/internal/battery"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	prefix string
}

// ErrNotConnected is returned by publish calls while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt: not connected")

// connectTimeout is how long NewRealPublisher waits for the first connection.
var connectTimeout = 10 * time.Second

// NewRealPublisher connects to broker. If the broker does not answer within
// connectTimeout the publisher is still returned and keeps retrying in the
// background; publish calls fail with ErrNotConnected until it connects.
// The broker keeps an OFFLINE system message as the last will.
func NewRealPublisher(broker, clientID, prefix string) (*RealPublisher, error) {
	will, err := FormatSystemPayload("OFFLINE", time.Now())
	if err != nil {
		return nil, err
	}
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(Topic(prefix, systemTopic), will, 1, true)

	client := paho.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(connectTimeout) {
		if err := token.Error(); err != nil {
			client.Disconnect(0)
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
	}

	return &RealPublisher{
		client: client,
		prefix: prefix,
	}, nil
}

// PublishBattery sends the status retained so new subscribers see the last level.
func (p *RealPublisher) PublishBattery(status battery.Status, at time.Time) error {
	payload, err := FormatBatteryPayload(status, at)
	if err != nil {
		return fmt.Errorf("format battery payload: %w", err)
	}
	return p.publish(Topic(p.prefix, batteryTopic), 0, true, payload)
}

func (p *RealPublisher) PublishSystem(event string, at time.Time) error {
	payload, err := FormatSystemPayload(event, at)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(Topic(p.prefix, systemTopic), 1, true, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports an open connection. paho's own IsConnected is also
// true while it is still retrying.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
