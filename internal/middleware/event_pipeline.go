package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AlgoArena/internal/domain/models"
	domrepo "AlgoArena/internal/domain/repository"
)

// EventPipeline sits between the trading loops and the event broker.
// Publish never blocks the caller: events go into a buffer and a
// background worker drains it, retrying with backoff when the broker
// is unavailable. When the buffer overflows the oldest behaviour is
// to drop and count, never to stall a tick.
type EventPipeline struct {
	sink    domrepo.EventPublisher
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan *models.Event
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets how many events may be queued before drops start.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewEventPipeline wraps sink with an asynchronous buffer.
func NewEventPipeline(sink domrepo.EventPublisher, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		sink:    sink,
		metrics: metrics,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Event, p.bufSize)
	return p
}

// Start launches the background flush worker.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				p.drain(ctx)
				return
			case e := <-p.bufCh:
				if e == nil {
					continue
				}
				if err := p.sink.Publish(ctx, e); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("event_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- e:
					default:
						p.metrics.RecordError("event_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
					p.metrics.RecordEventPublished(string(e.Type))
				}
			}
		}
	}()
}

// Publish validates and enqueues the event without blocking.
func (p *EventPipeline) Publish(_ context.Context, e *models.Event) error {
	if err := validateEvent(e); err != nil {
		p.metrics.RecordError("event_validate")
		return err
	}
	select {
	case p.bufCh <- e:
		return nil
	default:
		p.metrics.RecordError("event_buffer_full")
		return fmt.Errorf("event buffer full, dropped %s", e.Type)
	}
}

// Close stops the worker, flushes what it can, and closes the sink.
func (p *EventPipeline) Close() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return p.sink.Close()
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
	return p.sink.Close()
}

// drain makes a best-effort single pass over the buffered backlog.
func (p *EventPipeline) drain(ctx context.Context) {
	for {
		select {
		case e := <-p.bufCh:
			if e == nil {
				return
			}
			if err := p.sink.Publish(ctx, e); err != nil {
				p.metrics.RecordError("event_flush")
				return
			}
			p.metrics.RecordEventPublished(string(e.Type))
		default:
			return
		}
	}
}

func validateEvent(e *models.Event) error {
	if e == nil {
		return fmt.Errorf("event nil")
	}
	if e.Type == "" {
		return fmt.Errorf("event type empty")
	}
	return nil
}
