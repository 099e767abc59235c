// Package journal keeps a local record of serial link traffic.
//
// Every frame written to or read from the OBLOQ module is stored in the
// frames table, tagged with a per-process session ID, so a field engineer
// can ask the API what the module said around a reconnect. The last value
// of each feed is kept in feed_values and survives restarts.
//
// Recorder sits on the connection's hot path, so it queues frames and
// writes them from a single goroutine. When the queue is full frames are
// dropped and counted rather than blocking the serial link.
package journal
