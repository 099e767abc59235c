package mqtt

import (
	"fmt"
	"sort"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outbound payloads. Feed values are a few bytes and
// health documents stay well under a kilobyte.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic on the site broker.
//
// The bridge publishes feed state and health retained so a dashboard that
// subscribes later sees the current value; events are published plain.
//
// Example:
//
//	err := client.Publish("obloq/state/temperature", data, 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return awaitToken(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// Subscribe routes messages matching topic (wildcards allowed) to handler.
//
// The subscription is remembered and replayed after paho reconnects, so
// obloq/command/+ keeps working across broker restarts. Paho runs the
// handler on its own goroutine; panics are recovered and logged.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(subscription{topic: topic, qos: qos, handler: handler})
	err := awaitToken(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), defaultPublishTimeout, ErrSubscribeFailed)
	if err != nil {
		c.untrack(topic)
		return err
	}
	return nil
}

// Unsubscribe drops a subscription made with the same topic pattern.
// Messages already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)
	return awaitToken(c.client.Unsubscribe(topic), defaultPublishTimeout, ErrUnsubscribeFailed)
}

// checkRequest validates the arguments shared by Publish and Subscribe.
func checkRequest(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}

// awaitToken waits for a paho operation and wraps its outcome in failure.
func awaitToken(token pahomqtt.Token, timeout time.Duration, failure error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", failure, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", failure, err)
	}
	return nil
}

func (c *Client) track(sub subscription) {
	c.subMu.Lock()
	c.subscriptions[sub.topic] = sub
	c.subMu.Unlock()
}

func (c *Client) untrack(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// tracked returns the remembered subscriptions ordered by topic.
func (c *Client) tracked() []subscription {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].topic < subs[j].topic })
	return subs
}
