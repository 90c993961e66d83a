// Package writer implements the background writer that decouples
// record construction from disk I/O, grounded in
// original_source/sensor/include/writer.hpp's single worker thread
// draining a mutex-guarded FIFO under a condition variable. Go's
// sync.Cond maps directly onto that wait/signal pattern; the queue
// itself is a plain slice guarded by the same lock.
package writer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/store"
)

func nowUnix() int64 { return time.Now().Unix() }

// Serializer renders a session into its on-disk record form. item is
// whatever the analyzer enqueued (a *record.HTTPRecord or
// *record.PJLRecord for the analyzers in this repository); bucketTime
// is the record's hour-bucket key.
type Serializer func(item interface{}) (payload []byte, bucketTime int64)

type job struct {
	item       interface{}
	bucketTime int64
}

// Writer owns one record store and one worker goroutine. Submitted
// records are persisted in submission order; there is no
// back-pressure, so callers must size their slab pool to bound memory.
type Writer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []job

	run          bool
	busy         bool
	flushRequest bool

	store      *store.Store
	serializer Serializer
	log        *zap.Logger

	done chan struct{}
}

// New constructs a Writer backed by a record store rooted at directory,
// and starts its worker goroutine.
func New(directory, baseName string, idleTimeout int64, serializer Serializer, log *zap.Logger) (*Writer, error) {
	st, err := store.New(directory, baseName, idleTimeout, log)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		run:        true,
		store:      st,
		serializer: serializer,
		log:        log.Named("writer").With(zap.String("base", baseName)),
		done:       make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	go w.loop()
	return w, nil
}

// Write enqueues item under bucketTime and wakes the worker.
func (w *Writer) Write(item interface{}, bucketTime int64) {
	w.mu.Lock()
	w.queue = append(w.queue, job{item: item, bucketTime: bucketTime})
	w.mu.Unlock()
	w.cond.Signal()
}

// Flush requests that the worker force the record store's outstanding
// writes and run its idle-eviction pass once it next drains the queue.
func (w *Writer) Flush() {
	w.mu.Lock()
	w.flushRequest = true
	w.mu.Unlock()
	w.cond.Signal()
}

// Finish stops the worker and waits for it to exit. It does not
// discard a partially drained queue -- the worker finishes its current
// batch before observing the cleared run flag.
func (w *Writer) Finish() {
	w.mu.Lock()
	w.run = false
	w.mu.Unlock()
	w.cond.Signal()
	<-w.done
	w.store.Close()
}

func (w *Writer) loop() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.flushRequest && w.run {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && !w.flushRequest && !w.run {
			w.mu.Unlock()
			return
		}
		w.busy = true
		batch := w.queue
		w.queue = nil
		flushRequested := w.flushRequest
		w.flushRequest = false
		w.mu.Unlock()

		for _, j := range batch {
			payload, bucketTime := w.serializer(j.item)
			if _, err := w.store.Write(payload, bucketTime); err != nil {
				w.log.Error("record write failed", zap.Error(err))
			}
		}

		if flushRequested {
			if err := w.store.Flush(nowUnix()); err != nil {
				w.log.Error("store flush failed", zap.Error(err))
			}
		}

		w.mu.Lock()
		w.busy = false
		runNow := w.run
		pending := len(w.queue) > 0 || w.flushRequest
		w.mu.Unlock()

		if !runNow && !pending {
			return
		}
	}
}

// Busy reports whether the worker is currently draining a batch, for
// diagnostics.
func (w *Writer) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}
