package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/geowatch/timeline-cache/internal/pkg/metrics"
)

// WriteQueue serializes persistent-tier writes off the caller's path.
// StoreLiveUpdate runs inside a streaming transport callback, so it must
// return after scheduling, not after the store I/O completes. The queue is
// bounded; under backpressure jobs are dropped and counted, never blocked on.
type WriteQueue struct {
	mu     sync.Mutex
	jobs   chan func(context.Context)
	closed bool
	done   chan struct{}
	log    *slog.Logger
}

// NewWriteQueue starts the single worker goroutine. size <= 0 falls back to 256.
func NewWriteQueue(size int, log *slog.Logger) *WriteQueue {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = slog.Default()
	}
	q := &WriteQueue{
		jobs: make(chan func(context.Context), size),
		done: make(chan struct{}),
		log:  log,
	}
	go q.run()
	return q
}

func (q *WriteQueue) run() {
	defer close(q.done)
	ctx := context.Background()
	for job := range q.jobs {
		job(ctx)
		metrics.WriteQueueDepth.Dec()
	}
}

// Enqueue schedules a write job. Returns false if the queue is full or closed;
// the job is dropped in that case.
func (q *WriteQueue) Enqueue(job func(ctx context.Context)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		metrics.WriteQueueDepth.Inc()
		return true
	default:
		metrics.WriteQueueDroppedTotal.Inc()
		q.log.Warn("write queue full, dropping batch")
		return false
	}
}

// Close stops accepting jobs and blocks until queued jobs have drained.
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	<-q.done
}
