// Package obloq drives a DFRobot OBLOQ Wi-Fi/MQTT module over a serial line.
//
// The module speaks a compact pipe-delimited text protocol, one command or
// reply per CR-terminated line. This package owns the protocol engine:
//
//   - Command framing (codec.go)
//   - Reply classification into status lines and payload lines
//   - Broker connection state with a supervisory reconnect loop
//   - A bounded subscription registry replayed after every reconnect
//   - Routing of inbound payloads to feed handlers
//
// # Architecture
//
//	┌─────────────┐  pipe protocol  ┌───────────────┐   MQTT   ┌────────────────┐
//	│ this driver │◄───────────────►│  OBLOQ module │◄────────►│ io.adafruit.com│
//	└─────────────┘   UART / TCP    └───────────────┘          └────────────────┘
//
// Bridge (bridge.go) additionally mirrors feed traffic onto the site MQTT
// bus: obloq/state/{feed} out, obloq/command/{feed} in, obloq/health.
//
// # Wire grammar
//
//	|2|1|{ssid},{password}|                   Wi-Fi associate
//	|4|1|1|{host}|{port}|{user}|{key}|        broker connect
//	|4|1|2|{topic}|                           subscribe
//	|4|1|3|{topic}|{message}|                 publish
//	|4|1|4|                                   disconnect
//
// Inbound, "|4|1|1|1|" signals a successful broker connect. Lines that are
// not status traffic are payloads for the subscribed feed. Delimiters inside
// topics or messages are not escaped; a "|" in a message corrupts the frame.
//
// # Topics
//
// Adafruit IO topics are always "{user}/f/{feed}". Topic is the only place
// that builds them.
//
// # Thread Safety
//
// Connection is safe for concurrent use. Connection state, credentials and
// the subscription registry share one mutex, and every outbound frame goes
// through a single send lock so frames from the reconnect loop never
// interleave with caller frames.
package obloq
