package audit

import (
	"context"

	"github.com/nerrad567/keygate/internal/infrastructure/logging"
)

// DefaultQueueSize is the number of entries a Recorder buffers.
const DefaultQueueSize = 256

// Recorder queues entries for a single writer goroutine. A nil *Recorder
// discards everything, so callers need no nil checks.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
	queue  chan *Entry
}

// NewRecorder creates a recorder writing to repo. Run must be started for
// entries to reach storage.
func NewRecorder(repo Repository, logger *logging.Logger, size int) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		repo:   repo,
		logger: logger.With("component", "audit"),
		queue:  make(chan *Entry, size),
	}
}

// Record enqueues e without blocking. When the queue is full the entry is
// dropped.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	select {
	case r.queue <- &e:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", e.Action,
			"entity_type", e.EntityType,
		)
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is
// left and returns.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
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

func (r *Recorder) write(e *Entry) {
	// The request that produced e may be gone; write on a fresh context.
	if err := r.repo.Create(context.Background(), e); err != nil {
		r.logger.Error("audit write failed",
			"action", e.Action,
			"error", err,
		)
	}
}
