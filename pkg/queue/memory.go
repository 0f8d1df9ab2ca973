package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"AlgoArena/pkg/logger"
)

// MemoryQueue is a channel-backed queue for single-node deployments. It
// keeps the same Job/Service surface as the Redis backend, minus
// durability: pending messages are lost on restart.
type MemoryQueue struct {
	log *logger.Logger
	cfg Config

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	msgs   chan Message
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewMemoryQueue(log *logger.Logger, cfg Config) *MemoryQueue {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		log:    log,
		cfg:    cfg,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob registers the handler for one message type.
func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

// Start launches the workers.
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("memory queue started", logger.Int("workers", q.cfg.Workers))
	return nil
}

// Stop drains workers, waiting up to the context deadline.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// PublishMessage enqueues one message without blocking; a full queue is an
// error the caller can surface.
func (q *MemoryQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	msg := Message{
		ID:        strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	select {
	case q.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full (%d pending)", cap(q.msgs))
	}
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.msgs:
			q.dispatch(msg)
		}
	}
}

func (q *MemoryQueue) dispatch(msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.log.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	if err := job.Handle(q.ctx, msg.Payload); err != nil {
		if msg.Attempts >= q.cfg.RetryLimit {
			q.log.Error("job failed, dropping message",
				logger.String("job", job.Name()),
				logger.String("id", msg.ID),
				logger.Error(err))
			return
		}
		msg.Attempts++
		q.log.Warn("job failed, retrying",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Int("attempt", msg.Attempts),
			logger.Error(err))
		go func(m Message) {
			select {
			case <-q.ctx.Done():
			case <-time.After(q.cfg.RetryDelay):
				select {
				case q.msgs <- m:
				default:
				}
			}
		}(msg)
	}
}
