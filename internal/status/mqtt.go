package status

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// publisher is the subset of mqtt.Client used by MQTTSink.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTOptions configures the MQTT status publisher.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// MQTTSink publishes every value, retained, to <prefix>/status.
type MQTTSink struct {
	client  publisher
	topic   string
	timeout time.Duration
	closeFn func()
}

var _ Sink = (*MQTTSink)(nil)

// DialMQTT connects to the broker and returns a sink. The broker's last-will
// marks the hub offline if the daemon disappears.
func DialMQTT(opts MQTTOptions, logger *zap.Logger) (*MQTTSink, error) {
	topic := opts.TopicPrefix + "/status"
	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5*time.Second).
		SetWill(topic, "offline", 1, true)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(co)
	tok := client.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		// SetConnectRetry keeps trying in the background.
		logger.Warn("mqtt broker not reachable yet", zap.String("broker", opts.Broker))
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", opts.Broker, err)
	}

	s := newMQTTSink(client, topic)
	s.closeFn = func() { client.Disconnect(250) }
	return s, nil
}

func newMQTTSink(client publisher, topic string) *MQTTSink {
	return &MQTTSink{
		client:  client,
		topic:   topic,
		timeout: 3 * time.Second,
	}
}

// Emit publishes v with QoS 1, retained.
func (s *MQTTSink) Emit(ctx context.Context, v Value) error {
	tok := s.client.Publish(s.topic, 1, true, string(v))
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", s.topic, err)
		}
		return nil
	case <-time.After(s.timeout):
		return fmt.Errorf("publish %s: timed out after %s", s.topic, s.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}
