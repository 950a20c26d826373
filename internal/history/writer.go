package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// writerQueueSize is the number of entries buffered before drops.
	writerQueueSize = 256

	// writeTimeout bounds one insert.
	writeTimeout = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Writer records entries asynchronously through a buffered queue.
// When the queue is full entries are dropped and counted rather than
// blocking the caller.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Writer struct {
	store *Store
	queue chan Entry

	dropped atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// NewWriter creates a writer backed by the store. Call Start before
// recording and Stop during shutdown to drain the queue.
func NewWriter(store *Store) *Writer {
	return &Writer{
		store: store,
		queue: make(chan Entry, writerQueueSize),
		done:  make(chan struct{}),
	}
}

// SetLogger sets the logger for the writer.
func (w *Writer) SetLogger(logger Logger) {
	w.loggerMu.Lock()
	w.logger = logger
	w.loggerMu.Unlock()
}

// Start launches the background write loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop drains queued entries and stops the write loop. Safe to call
// multiple times.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if n := w.dropped.Load(); n > 0 {
			w.logWarn("history entries dropped under load", "dropped", n)
		}
	})
}

// Record queues one entry. Never blocks: with a full queue the entry
// is dropped and counted.
func (w *Writer) Record(e Entry) {
	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded because the queue
// was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// run writes queued entries until Stop, then drains what remains.
func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-w.done:
			for {
				select {
				case e := <-w.queue:
					w.write(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.store.Record(ctx, e); err != nil {
		w.logError("recording command history failed", "id", e.ID, "error", err)
	}
}

func (w *Writer) logWarn(msg string, keysAndValues ...any) {
	if l := w.currentLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (w *Writer) logError(msg string, keysAndValues ...any) {
	if l := w.currentLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}

func (w *Writer) currentLogger() Logger {
	w.loggerMu.RLock()
	defer w.loggerMu.RUnlock()
	return w.logger
}
