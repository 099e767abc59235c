package simulator

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// pahoTimeout bounds connect, subscribe and publish round trips.
const pahoTimeout = 10 * time.Second

// PahoBackend relays module sessions through a real MQTT broker.
type PahoBackend struct {
	// BrokerURL overrides the host and port from the connect frame,
	// e.g. "tcp://127.0.0.1:1883" to keep traffic off the cloud.
	BrokerURL string

	// QoS for subscribe and publish. The module firmware uses 0.
	QoS byte
}

// Connect implements Backend. The module's user and key are passed to the
// broker as username and password.
func (b *PahoBackend) Connect(ctx context.Context, host string, port int, user, key string) (Session, error) {
	broker := b.BrokerURL
	if broker == "" {
		broker = fmt.Sprintf("tcp://%s:%d", host, port)
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("obloq-sim-" + uuid.NewString()[:8]).
		SetUsername(user).
		SetPassword(key).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(pahoTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthRejected, err)
	}

	return &pahoSession{client: client, qos: b.QoS}, nil
}

type pahoSession struct {
	client pahomqtt.Client
	qos    byte
}

func (s *pahoSession) Subscribe(topic string, deliver DeliverFunc) error {
	token := s.client.Subscribe(topic, s.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		deliver(msg.Topic(), string(msg.Payload()))
	})
	return waitToken(context.Background(), token)
}

func (s *pahoSession) Publish(topic, message string) error {
	return waitToken(context.Background(), s.client.Publish(topic, s.qos, false, message))
}

func (s *pahoSession) Close() error {
	s.client.Disconnect(250)
	return nil
}

// waitToken waits for a paho token, bounded by pahoTimeout and ctx.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(pahoTimeout):
		return fmt.Errorf("timeout after %v", pahoTimeout)
	}
}
