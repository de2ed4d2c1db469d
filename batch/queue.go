package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"scanner-bridge/domain"
	"scanner-bridge/logging"
)

const DefaultDelay = time.Second

// Queue collects distinct barcodes into batches. A window opens with the
// first enqueue after an idle period and closes delay later.
type Queue struct {
	consumer   domain.BatchConsumer
	delay      time.Duration
	maxPending int

	mu      sync.Mutex
	pending map[string]struct{}
	order   []string
	timer   *time.Timer
	// window identifies the scheduled flush; a stale timer that lost the
	// race with an early flush sees a different value and does nothing.
	window uint64
	closed bool

	// batches waiting for the delivery goroutine; idle is non-nil while it runs
	ready [][]string
	idle  chan struct{}
}

type Option func(*Queue)

func WithDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.delay = d
		}
	}
}

// Zero leaves the queue unbounded.
func WithMaxPending(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxPending = n
		}
	}
}

func New(consumer domain.BatchConsumer, opts ...Option) *Queue {
	q := &Queue{
		consumer: consumer,
		delay:    DefaultDelay,
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Enqueue(code string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Warn("enqueue after close", logging.Code(code))
		return
	}

	if _, exists := q.pending[code]; !exists {
		q.pending[code] = struct{}{}
		q.order = append(q.order, code)
	}

	if q.maxPending > 0 && len(q.order) >= q.maxPending {
		q.window++
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		codes := q.drainLocked()
		q.dispatchLocked(codes)
		q.mu.Unlock()
		slog.Debug("pending limit reached, flushing early", "pending", len(codes))
		return
	}

	if q.timer == nil {
		q.window++
		window := q.window
		q.timer = time.AfterFunc(q.delay, func() { q.flush(window) })
	}
	q.mu.Unlock()
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close cancels any scheduled flush, waits for batches already handed off
// and delivers what is still pending. Later enqueues are dropped.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.window++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	codes := q.drainLocked()
	idle := q.idle
	q.mu.Unlock()

	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if len(codes) == 0 {
		return nil
	}
	return q.consumer.Consume(ctx, codes)
}

func (q *Queue) flush(window uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if window != q.window || q.closed {
		return
	}
	q.timer = nil
	q.dispatchLocked(q.drainLocked())
}

func (q *Queue) dispatchLocked(codes []string) {
	if len(codes) == 0 {
		return
	}
	q.ready = append(q.ready, codes)
	if q.idle != nil {
		return
	}
	idle := make(chan struct{})
	q.idle = idle
	go q.run(idle)
}

// run delivers ready batches one at a time until none are left.
func (q *Queue) run(idle chan struct{}) {
	defer close(idle)
	for {
		q.mu.Lock()
		if len(q.ready) == 0 {
			q.idle = nil
			q.mu.Unlock()
			return
		}
		codes := q.ready[0]
		q.ready = q.ready[1:]
		q.mu.Unlock()

		q.deliver(context.Background(), codes)
	}
}

func (q *Queue) drainLocked() []string {
	if len(q.order) == 0 {
		return nil
	}
	codes := q.order
	q.order = nil
	q.pending = make(map[string]struct{})
	return codes
}

func (q *Queue) deliver(ctx context.Context, codes []string) {
	if len(codes) == 0 {
		return
	}
	ctx, span := otel.Tracer("scanner-bridge/batch").Start(ctx, "flush barcode batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(codes)))

	if err := q.consumer.Consume(ctx, codes); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "consume failed")
		slog.Error("batch consume failed", "codes", len(codes), logging.Err(err))
		return
	}
	slog.Debug("batch flushed", "codes", len(codes))
}

// Fanout runs every consumer even when one fails; the errors are joined.
func Fanout(consumers ...domain.BatchConsumer) domain.BatchConsumer {
	return domain.BatchConsumerFunc(func(ctx context.Context, codes []string) error {
		var errs []error
		for _, c := range consumers {
			if err := c.Consume(ctx, codes); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
