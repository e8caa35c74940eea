package mirror

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/zhouzirui/doorbell-lab/backend/internal/config"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client      paho.Client
	statusTopic string
}

// NewRealPublisher connects to cfg.Broker. The broker marks the lab offline
// through the last will if the connection drops.
func NewRealPublisher(cfg config.MirrorConfig) (*RealPublisher, error) {
	statusTopic := cfg.Topic + "/status"

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(statusTopic, "offline", 1, true)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	p := &RealPublisher{client: client, statusTopic: statusTopic}
	if err := p.Publish(statusTopic, []byte("online"), true); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish sends payload with QoS 0.
func (p *RealPublisher) Publish(topic string, payload []byte, retained bool) error {
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently holds a connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close announces a clean shutdown and disconnects from the broker.
func (p *RealPublisher) Close() error {
	// QoS 1 so the retained status survives the disconnect.
	token := p.client.Publish(p.statusTopic, 1, true, []byte("offline"))
	token.WaitTimeout(2 * time.Second)
	p.client.Disconnect(1000)
	return nil
}
