package obloq

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeModule is an in-memory Transport that plays the module side.
// Frames written by the driver are recorded; the responder may queue
// reply lines for each frame.
type fakeModule struct {
	mu        sync.Mutex
	written   []string
	respond   func(frame string) []string
	writeErr  error
	inbound   chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeModule(respond func(frame string) []string) *fakeModule {
	return &fakeModule{
		respond: respond,
		inbound: make(chan string, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeModule) WriteLine(line string) error {
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.written = append(f.written, line)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, reply := range respond(line) {
			f.inbound <- reply
		}
	}
	return nil
}

func (f *fakeModule) ReadLine() (string, error) {
	select {
	case line := <-f.inbound:
		return line, nil
	case <-f.closed:
		return "", io.EOF
	}
}

func (f *fakeModule) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// inject queues a line as if the module had sent it.
func (f *fakeModule) inject(line string) {
	f.inbound <- line
}

func (f *fakeModule) setRespond(respond func(frame string) []string) {
	f.mu.Lock()
	f.respond = respond
	f.mu.Unlock()
}

func (f *fakeModule) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// frames returns a copy of everything written so far.
func (f *fakeModule) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

// framesWithPrefix returns written frames starting with prefix.
func (f *fakeModule) framesWithPrefix(prefix string) []string {
	var out []string
	for _, frame := range f.frames() {
		if strings.HasPrefix(frame, prefix) {
			out = append(out, frame)
		}
	}
	return out
}

// acceptAll answers like a module whose broker accepts every session.
func acceptAll(frame string) []string {
	switch {
	case strings.HasPrefix(frame, "|4|1|1|"):
		return []string{"|4|1|1|1|"}
	case strings.HasPrefix(frame, "|4|1|2|"):
		return []string{"|4|1|2|1|"}
	case strings.HasPrefix(frame, "|4|1|3|"):
		return []string{"|4|1|3|1|"}
	}
	return nil
}

// rejectAll answers every broker connect with a failure code.
func rejectAll(frame string) []string {
	if strings.HasPrefix(frame, "|4|1|1|") {
		return []string{"|4|1|1|2|"}
	}
	return nil
}

// fastTiming shrinks every module pause so tests run quickly.
func fastTiming() Timing {
	return Timing{
		WifiSettle:       time.Millisecond,
		BrokerSettle:     time.Millisecond,
		SubscribeSettle:  time.Millisecond,
		ReconnectPeriod:  20 * time.Millisecond,
		HandshakeTimeout: 200 * time.Millisecond,
	}
}

func newTestConnection(t *testing.T, module *fakeModule) *Connection {
	t.Helper()
	conn := NewConnection(module, Options{Timing: fastTiming()})
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// payloadRecorder collects handler invocations.
type payloadRecorder struct {
	mu       sync.Mutex
	payloads []string
}

func (r *payloadRecorder) handle(payload string) {
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	r.mu.Unlock()
}

func (r *payloadRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.payloads))
	copy(out, r.payloads)
	return out
}

// testLogger discards everything but satisfies Logger.
type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}
