package obloq

import "errors"

// Domain errors for the OBLOQ driver package.
var (
	// ErrNotConnected is reported when an operation expects an established
	// broker session but the module has not acknowledged one.
	ErrNotConnected = errors.New("obloq: not connected to broker")

	// ErrClosed is returned by operations on a Connection after Close.
	ErrClosed = errors.New("obloq: connection closed")

	// ErrTransport is returned when the serial line cannot be written or read.
	ErrTransport = errors.New("obloq: transport failure")

	// ErrHandshakeTimeout is recorded when no broker-connect reply arrived
	// within the handshake timeout.
	ErrHandshakeTimeout = errors.New("obloq: broker handshake timed out")

	// ErrHandshakeRejected is recorded when the module answered the broker
	// connect command with anything other than success.
	ErrHandshakeRejected = errors.New("obloq: broker handshake rejected")

	// ErrInvalidFeed is returned when a feed name is empty.
	ErrInvalidFeed = errors.New("obloq: feed name cannot be empty")

	// ErrNoCredentials is returned when a topic is needed before any
	// broker account has been supplied.
	ErrNoCredentials = errors.New("obloq: broker user not set")

	// ErrRegistryFull is recorded when a subscription is refused because
	// the module's subscription table is at capacity.
	ErrRegistryFull = errors.New("obloq: subscription registry full")

	// ErrInvalidMessage is returned when a message cannot be carried in a
	// frame: it is empty or contains the "|" delimiter.
	ErrInvalidMessage = errors.New("obloq: invalid message")

	// ErrInvalidURL is returned when a transport URL cannot be used.
	ErrInvalidURL = errors.New("obloq: invalid transport URL")
)
