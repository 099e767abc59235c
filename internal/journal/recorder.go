package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
)

// Recorder defaults.
const (
	defaultQueueSize     = 256
	defaultPruneInterval = time.Hour
	writeTimeout         = 2 * time.Second
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// QueueSize bounds frames waiting to be written. Default: 256.
	QueueSize int

	// Retention is how long frames are kept. Zero keeps them forever.
	Retention time.Duration

	// PruneInterval is how often old frames are deleted. Default: 1h.
	PruneInterval time.Duration
}

// entry is one queued write: a frame, or a feed value when frame is nil.
type entry struct {
	frame *Frame
	feed  string
	value string
}

// Recorder writes link traffic to a Repository from a single goroutine.
// It satisfies the bridge's FrameRecorder and MetricWriter hooks.
type Recorder struct {
	repo      Repository
	sessionID string
	cfg       RecorderConfig

	queue    chan entry
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	recorded atomic.Uint64
	dropped  atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRecorder creates a recorder with a fresh session ID.
// Call Start to begin writing.
func NewRecorder(repo Repository, cfg RecorderConfig) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}

	return &Recorder{
		repo:      repo,
		sessionID: uuid.NewString(),
		cfg:       cfg,
		queue:     make(chan entry, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// SessionID identifies frames written by this process.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Recorded returns the number of entries written.
func (r *Recorder) Recorded() uint64 {
	return r.recorded.Load()
}

// Dropped returns the number of entries discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// SetLogger sets the logger for write failures.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

// Start launches the writer and, when retention is set, the prune loop.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.writeLoop()

	if r.cfg.Retention > 0 {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}
}

// Close stops the recorder after writing everything already queued.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// RecordFrame queues a frame. It never blocks.
func (r *Recorder) RecordFrame(dir obloq.Direction, line string, kind obloq.LineKind) {
	r.enqueue(entry{frame: &Frame{
		SessionID:  r.sessionID,
		Direction:  string(dir),
		Kind:       kind.String(),
		Line:       line,
		RecordedAt: time.Now().UTC(),
	}})
}

// WriteFeedValue queues the latest value of a feed. It never blocks.
func (r *Recorder) WriteFeedValue(feed, value string) {
	r.enqueue(entry{feed: feed, value: value})
}

func (r *Recorder) enqueue(e entry) {
	select {
	case <-r.done:
		r.dropped.Add(1)
		return
	default:
	}

	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if e.frame != nil {
		err = r.repo.Record(ctx, e.frame)
	} else {
		err = r.repo.SaveFeedValue(ctx, e.feed, e.value)
	}
	if err != nil {
		r.logError("journal write failed", err)
		return
	}
	r.recorded.Add(1)
}

func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			n, err := r.repo.Prune(pruneCtx, r.cfg.Retention)
			cancel()
			if err != nil {
				r.logError("journal prune failed", err)
				continue
			}
			if n > 0 {
				r.logInfo("journal pruned", "frames", n)
			}
		}
	}
}

func (r *Recorder) logInfo(msg string, args ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, args...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
