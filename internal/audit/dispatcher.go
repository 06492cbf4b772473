package audit

import (
	"context"
	"sync"
	"time"

	"github.com/ecozone/authcore/internal/infrastructure/logging"
)

// DefaultQueueSize is the buffer size of the dispatcher queue.
const DefaultQueueSize = 256

// writeTimeout bounds a single entry's write to the store and sinks.
const writeTimeout = 5 * time.Second

// Sink receives every audit entry after it has been stored.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e *Entry) error
}

// Recorder is what request paths use to audit an event.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Dispatcher writes audit entries off the request path. Entries go through
// a bounded queue drained by Run. When the queue is full, or after Run has
// stopped, the entry is written synchronously instead; nothing is dropped.
type Dispatcher struct {
	repo   Repository
	sinks  []Sink
	logger *logging.Logger
	queue  chan *Entry

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher. queueSize <= 0 uses DefaultQueueSize.
func NewDispatcher(repo Repository, logger *logging.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		repo:   repo,
		sinks:  sinks,
		logger: logger.With("component", "audit"),
		queue:  make(chan *Entry, queueSize),
	}
}

// Record enqueues e for asynchronous write.
func (d *Dispatcher) Record(ctx context.Context, e Entry) {
	prepare(&e)

	d.mu.RLock()
	if !d.closed {
		select {
		case d.queue <- &e:
			d.mu.RUnlock()
			return
		default:
		}
	}
	closed := d.closed
	d.mu.RUnlock()

	if !closed {
		d.logger.Warn("audit queue full, writing synchronously",
			"action", e.Action,
			"result", string(e.Result),
		)
	}
	d.write(context.WithoutCancel(ctx), &e)
}

// Run drains the queue until ctx is cancelled, then writes whatever is
// still queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case e := <-d.queue:
			d.write(context.Background(), e)
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			for {
				select {
				case e := <-d.queue:
					d.write(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, e *Entry) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := d.repo.Create(ctx, e); err != nil {
		d.logger.Error("audit log write failed",
			"action", e.Action,
			"result", string(e.Result),
			"user_id", e.UserID,
			"error", err,
		)
	}

	for _, s := range d.sinks {
		if err := s.Handle(ctx, e); err != nil {
			d.logger.Warn("audit sink failed",
				"sink", s.Name(),
				"action", e.Action,
				"error", err,
			)
		}
	}
}
