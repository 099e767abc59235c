package mqtt

import "errors"

// Errors returned by the site broker client. Operation failures wrap the
// paho error, so errors.Is works against both.
var (
	// ErrNotConnected: the client has no live broker session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed: the first connect attempt was refused or timed out.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrTimeout is wrapped alongside one of the failures above when the
	// broker did not acknowledge in time.
	ErrTimeout = errors.New("mqtt: broker did not acknowledge in time")

	// ErrInvalidQoS: QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic: empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrPayloadTooLarge: payload over the 1 MiB publish limit.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
