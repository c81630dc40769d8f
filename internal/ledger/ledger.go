// Package ledger appends activity records off the request path. A full
// queue drops the record with a warning rather than delaying gameplay.
package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

// Sink receives the records. store.Store satisfies it.
type Sink interface {
	RecordActivity(ctx context.Context, rec domain.ActivityRecord) error
}

// Recorder owns a single writer goroutine fed by a bounded queue.
type Recorder struct {
	sink   Sink
	queue  chan domain.ActivityRecord
	logger *zap.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func NewRecorder(sink Sink, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		sink:   sink,
		queue:  make(chan domain.ActivityRecord, queueSize),
		logger: logger,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.RecordActivity(ctx, rec); err != nil {
			r.logger.Warn("activity write failed",
				zap.String("kind", rec.Kind),
				zap.Int64("user_id", rec.UserID),
				zap.Error(err))
		}
		cancel()
	}
}

// Record enqueues rec without blocking.
func (r *Recorder) Record(userID int64, kind, description string, payload map[string]any) {
	rec := domain.ActivityRecord{
		UserID:      userID,
		Kind:        kind,
		Description: description,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped++
		r.logger.Warn("activity queue full, record dropped",
			zap.String("kind", kind),
			zap.Uint64("total_dropped", r.dropped))
	}
}

// Dropped reports how many records were discarded since start.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close drains the queue and stops the writer. Safe to call twice.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
