package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// PahoPublisher adapts a paho client to Publisher. The client reconnects on
// its own after the first successful connect.
type PahoPublisher struct {
	client paho.Client
	logger *slog.Logger
}

// NewPahoPublisher builds, but does not connect, a paho client for cfg
func NewPahoPublisher(cfg Config) *PahoPublisher {
	p := &PahoPublisher{logger: slog.Default().With("component", Name)}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		p.logger.Debug("MQTT connected", "broker", cfg.Broker)
	})

	p.client = paho.NewClient(opts)
	return p
}

// Connect waits for the connection or ctx, whichever ends first
func (p *PahoPublisher) Connect(ctx context.Context) error {
	return wait(ctx, p.client.Connect())
}

// Publish sends payload and waits for the broker acknowledgement the QoS
// level implies
func (p *PahoPublisher) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("not connected")
	}
	return wait(ctx, p.client.Publish(topic, qos, retained, payload))
}

// Disconnect closes the connection after at most 250ms of in-flight work
func (p *PahoPublisher) Disconnect() {
	p.client.Disconnect(250)
}

// IsConnected reports whether the connection is up
func (p *PahoPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
