package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/config"
	"github.com/nerrad567/obloq-bridge/internal/journal"
	"github.com/nerrad567/obloq-bridge/internal/simulator"
)

// =============================================================================
// Helpers
// =============================================================================

// startSimulator runs an in-memory module emulator for alice/aio_key.
func startSimulator(t *testing.T) (*simulator.Server, *simulator.MemoryBackend) {
	t.Helper()

	backend := simulator.NewMemoryBackend()
	backend.AddAccount("alice", "aio_key")

	srv, err := simulator.New(simulator.Config{Backend: backend})
	if err != nil {
		t.Fatalf("simulator.New() error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("simulator Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, backend
}

// writeTestConfig writes a config pointing at addr with fast module timing.
func writeTestConfig(t *testing.T, addr string, dbEnabled bool) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "obloq.db")

	content := `
serial:
  url: "tcp://` + addr + `"
aio:
  user: "alice"
  key: "aio_key"
feeds:
  - temperature
timing:
  wifi_settle_ms: 1
  broker_settle_ms: 5
  subscribe_settle_ms: 1
  reconnect_period_ms: 50
  handshake_timeout_ms: 1000
bridge:
  enabled: false
database:
  enabled: ` + boolString(dbEnabled) + `
  path: "` + dbPath + `"
api:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path, dbPath
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =============================================================================
// Configuration
// =============================================================================

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, &rootOptions{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

func TestRun_UnreachableSerialLink(t *testing.T) {
	// Nothing listens on port 1 of the loopback.
	path, _ := writeTestConfig(t, "127.0.0.1:1", false)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx, &rootOptions{configPath: path})
	if err == nil {
		t.Fatal("run() should fail when the serial link cannot be opened")
	}
	if !strings.Contains(err.Error(), "opening serial link") {
		t.Errorf("run() error = %v, want serial link error", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env", "", "/etc/obloq/env.yaml", "/etc/obloq/env.yaml"},
		{"flag wins", "/tmp/flag.yaml", "/etc/obloq/env.yaml", "/tmp/flag.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OBLOQ_CONFIG", tt.env)
			opts := &rootOptions{configPath: tt.flag}
			if got := opts.resolveConfigPath(); got != tt.want {
				t.Errorf("resolveConfigPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTimingFrom(t *testing.T) {
	cfg := &config.Config{Timing: config.TimingConfig{
		WifiSettle:       4000,
		BrokerSettle:     600,
		SubscribeSettle:  300,
		ReconnectPeriod:  10000,
		HandshakeTimeout: 2000,
	}}

	got := timingFrom(cfg)
	if got != obloq.DefaultTiming() {
		t.Errorf("timingFrom() = %+v, want %+v", got, obloq.DefaultTiming())
	}
}

// =============================================================================
// Adapters
// =============================================================================

type recordingSink struct {
	values []string
}

func (s *recordingSink) WriteFeedValue(feed, value string) {
	s.values = append(s.values, feed+"="+value)
}

func TestMetricFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	fanout := metricFanout{a, b}

	fanout.WriteFeedValue("temperature", "19.2")

	for i, sink := range []*recordingSink{a, b} {
		if len(sink.values) != 1 || sink.values[0] != "temperature=19.2" {
			t.Errorf("sink %d values = %v, want [temperature=19.2]", i, sink.values)
		}
	}

	// No sinks configured is valid.
	newMetricFanout(nil, nil).WriteFeedValue("temperature", "1")
}

func TestLinkFields(t *testing.T) {
	fields := linkFields(obloq.Stats{
		State:           obloq.StateConnected,
		FramesTx:        4,
		ReconnectsTotal: 2,
		Subscriptions:   3,
	})

	if fields["connected"] != true {
		t.Errorf("connected = %v, want true", fields["connected"])
	}
	if fields["frames_tx"] != int64(4) {
		t.Errorf("frames_tx = %v, want 4", fields["frames_tx"])
	}
	if fields["reconnects"] != int64(2) {
		t.Errorf("reconnects = %v, want 2", fields["reconnects"])
	}
	if fields["subscriptions"] != 3 {
		t.Errorf("subscriptions = %v, want 3", fields["subscriptions"])
	}
}

type recordingPoints struct {
	measurements chan string
}

func (p *recordingPoints) WritePoint(measurement string, _ map[string]string, _ map[string]interface{}) {
	select {
	case p.measurements <- measurement:
	default:
	}
}

func TestReportLink(t *testing.T) {
	srv, _ := startSimulator(t)
	transport, err := obloq.Dial(context.Background(), "tcp://"+srv.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn := obloq.NewConnection(transport, obloq.Options{})
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingPoints{measurements: make(chan string, 1)}
	go reportLink(ctx, conn, sink, 10*time.Millisecond)

	select {
	case m := <-sink.measurements:
		if m != "obloq_link" {
			t.Errorf("measurement = %q, want obloq_link", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no link point written")
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "obloqd "+version) {
		t.Errorf("version output = %q, want it to contain %q", out.String(), "obloqd "+version)
	}
}

func TestPublishCmd(t *testing.T) {
	srv, backend := startSimulator(t)
	path, _ := writeTestConfig(t, srv.Addr(), false)

	root := newRootCmd()
	root.SetArgs([]string{"--config", path, "publish", "setpoint", "21.5"})
	if err := root.Execute(); err != nil {
		t.Fatalf("publish error = %v", err)
	}

	// The simulator reads the frame asynchronously.
	waitFor(t, func() bool { return len(backend.Published()) == 1 }, "publish")
	published := backend.Published()
	if len(published) != 1 {
		t.Fatalf("Published() = %v, want one message", published)
	}
	if published[0].Topic != "alice/f/setpoint" || published[0].Message != "21.5" {
		t.Errorf("Published()[0] = %+v, want alice/f/setpoint 21.5", published[0])
	}
}

func TestPublishCmd_RejectsDelimiter(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--config", "/unused.yaml", "publish", "setpoint", "a|b"})
	if err := root.Execute(); err == nil {
		t.Error("publish with '|' in the value should fail")
	}
}

func TestSimulateOptions_InvalidAccount(t *testing.T) {
	opts := &simulateOptions{accounts: []string{"alice"}}
	if _, err := opts.server(); err == nil {
		t.Error("server() should reject an account without a key")
	}
}

func TestRun_LinkOnlyWithSimulator(t *testing.T) {
	srv, backend := startSimulator(t)
	path, dbPath := writeTestConfig(t, srv.Addr(), true)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, &rootOptions{configPath: path}) }()

	// Inject reports zero deliveries until the feed subscription lands.
	waitFor(t, func() bool { return backend.Inject("alice/f/temperature", "19.2") == 1 }, "feed subscription")
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	// The journal kept the session's traffic.
	cfg := &config.Config{Database: config.DatabaseConfig{Enabled: true, Path: dbPath, WALMode: true, BusyTimeout: 5}}
	db, err := openDatabase(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openDatabase() error = %v", err)
	}
	defer db.Close()

	repo := journal.NewSQLiteRepository(db.DB)
	frames, err := repo.Recent(context.Background(), 50)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	var sawConnect, sawPayload bool
	for _, f := range frames {
		if f.Line == "|4|1|1|1|" {
			sawConnect = true
		}
		if f.Line == "19.2" && f.Kind == "payload" {
			sawPayload = true
		}
		if strings.Contains(f.Line, "aio_key") {
			t.Errorf("journalled frame leaks the key: %q", f.Line)
		}
	}
	if !sawConnect || !sawPayload {
		t.Errorf("journal missing frames (connect %v, payload %v): %+v", sawConnect, sawPayload, frames)
	}

	values, err := repo.FeedValues(context.Background())
	if err != nil {
		t.Fatalf("FeedValues() error = %v", err)
	}
	if len(values) != 1 || values[0].Value != "19.2" {
		t.Errorf("FeedValues() = %+v, want temperature=19.2", values)
	}
}

func TestFramesAndMigrateCmds(t *testing.T) {
	path, dbPath := writeTestConfig(t, "127.0.0.1:1", true)

	cfg := &config.Config{Database: config.DatabaseConfig{Enabled: true, Path: dbPath, WALMode: true, BusyTimeout: 5}}
	db, err := openDatabase(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openDatabase() error = %v", err)
	}
	repo := journal.NewSQLiteRepository(db.DB)
	if err := repo.Record(context.Background(), &journal.Frame{
		SessionID: "s1", Direction: "in", Kind: "status", Line: "|4|1|1|1|",
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	db.Close()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "frames", "-n", "5"})
	if err := root.Execute(); err != nil {
		t.Fatalf("frames error = %v", err)
	}
	if !strings.Contains(out.String(), "|4|1|1|1|") {
		t.Errorf("frames output = %q, want the recorded line", out.String())
	}

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "migrate", "status"})
	if err := root.Execute(); err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out.String(), "applied") || strings.Contains(out.String(), "pending") {
		t.Errorf("migrate status output = %q, want only applied migrations", out.String())
	}

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "migrate", "down"})
	if err := root.Execute(); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "reverted 20261018_130000" {
		t.Errorf("migrate down output = %q, want %q", got, "reverted 20261018_130000")
	}

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "migrate", "status"})
	if err := root.Execute(); err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out.String(), "pending  20261018_130000  feed_values") {
		t.Errorf("migrate status after down = %q, want feed_values pending", out.String())
	}
}
