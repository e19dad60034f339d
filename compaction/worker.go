package compaction

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Worker runs the Compactor in the background on its own goroutine.
// Its levelSem bounds leveled compaction to one job at a time; flushSem
// is exposed separately so the DB facade can run a memtable flush
// concurrently with a level->level compaction, matching the "one flush
// concurrent with one level>=1 compaction" concurrency rule — the two
// never touch the same files (a flush only ever writes a brand new L0
// file).
type Worker struct {
	compactor *Compactor
	flushSem  *semaphore.Weighted
	levelSem  *semaphore.Weighted
	trigger   chan struct{}
	stop      chan struct{}
	done      chan struct{}
	log       *zap.Logger
}

// NewWorker returns a Worker bound to compactor.
func NewWorker(compactor *Compactor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		compactor: compactor,
		flushSem:  semaphore.NewWeighted(1),
		levelSem:  semaphore.NewWeighted(1),
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		log:       logger,
	}
}

// Start launches the background loop.
func (w *Worker) Start() {
	go w.loop()
}

// Trigger wakes the worker to check for new compaction work; it never
// blocks the caller.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Stop signals the loop to exit and waits for it to finish any
// in-flight task up to its next file-boundary checkpoint.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// AcquireFlush blocks until the flush slot is free, for the DB facade's
// memtable-flush goroutine.
func (w *Worker) AcquireFlush() { _ = w.flushSem.Acquire(context.Background(), 1) }

// ReleaseFlush releases the flush slot.
func (w *Worker) ReleaseFlush() { w.flushSem.Release(1) }

func (w *Worker) loop() {
	defer close(w.done)
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-w.stop:
			return
		case <-w.trigger:
		case <-time.After(2 * time.Second):
		}

		if !w.levelSem.TryAcquire(1) {
			continue
		}
		did, err := w.compactor.RunOnce()
		w.levelSem.Release(1)

		if err != nil {
			w.log.Warn("compaction attempt failed, backing off", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-w.stop:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if did {
			w.Trigger() // a completed compaction may have left more work
		}
	}
}
