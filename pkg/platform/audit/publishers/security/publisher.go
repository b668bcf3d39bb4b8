package security

import (
	"context"
	"log/slog"
	"time"

	audit "consular/pkg/platform/audit"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// Publisher buffers security events and flushes them to the store from Run.
// Emit never blocks; a full buffer drops the oldest event.
type Publisher struct {
	buffer        *RingBuffer
	store         audit.Store
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
}

type Option func(*Publisher)

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		p.flushInterval = d
	}
}

func New(store audit.Store, capacity int, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		buffer:        NewRingBuffer(capacity),
		store:         store,
		logger:        logger,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Emit(_ context.Context, event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Category = audit.CategorySecurity
	p.buffer.Enqueue(event)
}

// Run flushes on every tick and once more when ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush drains the buffer. Events that fail to persist are logged and dropped.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event); err != nil {
				p.logger.WarnContext(ctx, "security audit event dropped",
					"action", event.Action,
					"subject", event.Subject,
					"error", err,
				)
			}
		}
	}
}

// Pending reports buffered events not yet flushed.
func (p *Publisher) Pending() int {
	return p.buffer.Len()
}

// Dropped reports events discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}
