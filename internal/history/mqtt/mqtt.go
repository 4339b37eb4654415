package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loykin/lokivisor/internal/history"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	// disconnectQuiesceMs lets in-flight publishes drain on Close.
	disconnectQuiesceMs = 250
)

// publisher is the subset of pahomqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Sink publishes events as JSON messages on a single topic.
type Sink struct {
	client publisher
	topic  string
	qos    byte
}

// New connects to broker (for example "tcp://localhost:1883") and publishes to topic.
func New(broker, topic, clientID string) (*Sink, error) {
	if topic == "" {
		return nil, errors.New("mqtt sink requires a topic")
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(defaultConnectTimeout).
		SetAutoReconnect(true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %v", broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return &Sink{client: client, topic: topic, qos: 1}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	timeout := defaultPublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	token := s.client.Publish(s.topic, s.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish to %s: timeout after %v", s.topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.Disconnect(disconnectQuiesceMs)
	return nil
}
