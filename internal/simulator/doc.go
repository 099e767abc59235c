// Package simulator emulates an OBLOQ module on a TCP port.
//
// It accepts the same pipe-delimited command frames the driver sends over
// the UART and answers with the module's status replies, so the bridge can
// run end to end without hardware (tcp://127.0.0.1:7000 instead of
// serial:///dev/ttyUSB0).
//
// Replies:
//
//	|2|3|{ip}|        Wi-Fi associated
//	|4|1|1|1|         broker connect accepted   (|4|1|1|2| refused)
//	|4|1|2|1|         subscribe accepted        (|4|1|2|2| not connected)
//	|4|1|3|1|         publish accepted          (|4|1|3|2| not connected)
//	|4|1|4|1|         disconnected
//
// Messages on subscribed topics arrive as bare payload lines, or as
// |4|1|5|{topic}|{message}| when TaggedMessages is set.
//
// The broker side is a Backend: MemoryBackend for tests and demos,
// PahoBackend to relay through a real MQTT broker.
package simulator
