package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/meltforce/pushreps/internal/config"
)

const mqttConnectTimeout = 5 * time.Second

// MQTTSink publishes each message under <topic>/<kind>.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTSink connects to the broker. The client reconnects on its own after
// the first connection succeeds.
func NewMQTTSink(cfg config.MQTTConfig, log *slog.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return &MQTTSink{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, m Message) error {
	token := s.client.Publish(mqttTopic(s.topic, m.Kind), s.qos, false, m.Payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish timeout: %w", ctx.Err())
	}
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

func mqttTopic(base, kind string) string {
	return fmt.Sprintf("%s/%s", base, kind)
}
