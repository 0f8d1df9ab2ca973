package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"AlgoArena/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-list backed queue with delayed retries (sorted set)
// and a dead letter list. It can act as producer, consumer or both.
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client *redis.Client
	prefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithKeyPrefix overrides the Redis key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) { q.prefix = prefix }
}

func NewRedisQueue(log *logger.Logger, cfg Config, client *redis.Client, opts ...RedisOption) *RedisQueue {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		log:    log,
		cfg:    cfg,
		client: client,
		prefix: "algoarena:queue",
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterJob registers the handler for one message type. Duplicate
// registrations are ignored.
func (q *RedisQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

// Start verifies connectivity and launches the workers.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.running = true
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.Ping(ctx).Err(); err != nil {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.retryLoop()

	q.log.Info("redis queue started",
		logger.Int("workers", q.cfg.Workers),
		logger.String("prefix", q.prefix))
	return nil
}

// Stop drains workers, waiting up to the context deadline.
func (q *RedisQueue) Stop(ctx context.Context) error {
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

// PublishMessage enqueues one message. Implements Service.
func (q *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	msg := Message{
		ID:        strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.queueKey(), raw).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		default:
			q.popOne()
		}
	}
}

func (q *RedisQueue) popOne() {
	result, err := q.client.BRPop(q.ctx, time.Second, q.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		q.log.Error("brpop", logger.Error(err))
		time.Sleep(time.Second)
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		q.log.Error("unmarshal message", logger.Error(err))
		return
	}
	// Round-tripped payloads arrive as generic maps; hand jobs raw JSON so
	// ParsePayload can type them.
	if m, ok := msg.Payload.(map[string]interface{}); ok {
		if raw, err := json.Marshal(m); err == nil {
			msg.Payload = json.RawMessage(raw)
		}
	}
	q.dispatch(msg)
}

func (q *RedisQueue) dispatch(msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.log.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	if err := job.Handle(q.ctx, msg.Payload); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		q.retryOrPark(msg, job, err)
	}
}

func (q *RedisQueue) retryOrPark(msg Message, job Job, cause error) {
	q.log.Error("job failed",
		logger.String("job", job.Name()),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(cause))

	if msg.Attempts >= q.cfg.RetryLimit {
		q.park(msg)
		return
	}
	msg.Attempts++
	raw, err := json.Marshal(msg)
	if err != nil {
		q.log.Error("marshal retry", logger.Error(err))
		return
	}
	retryAt := time.Now().Add(q.cfg.RetryDelay)
	if err := q.client.ZAdd(context.Background(), q.retryKey(), redis.Z{
		Score:  float64(retryAt.Unix()),
		Member: raw,
	}).Err(); err != nil {
		q.log.Error("schedule retry", logger.Error(err))
	}
}

func (q *RedisQueue) park(msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		q.log.Error("marshal dead letter", logger.Error(err))
		return
	}
	if err := q.client.LPush(context.Background(), q.deadKey(), raw).Err(); err != nil {
		q.log.Error("push dead letter", logger.Error(err))
	}
	q.log.Error("message parked on dead letter list", logger.String("id", msg.ID))
}

func (q *RedisQueue) retryLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.promoteDueRetries()
		}
	}
}

// promoteDueRetries moves retry messages whose time has come back onto the
// main list.
func (q *RedisQueue) promoteDueRetries() {
	now := strconv.FormatFloat(float64(time.Now().Unix()), 'f', 0, 64)
	due, err := q.client.ZRangeByScore(q.ctx, q.retryKey(), &redis.ZRangeBy{Min: "0", Max: now}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			q.log.Error("fetch retries", logger.Error(err))
		}
		return
	}
	for _, raw := range due {
		pipe := q.client.TxPipeline()
		pipe.ZRem(q.ctx, q.retryKey(), raw)
		pipe.LPush(q.ctx, q.queueKey(), raw)
		if _, err := pipe.Exec(q.ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.log.Error("promote retry", logger.Error(err))
		}
	}
}

func (q *RedisQueue) queueKey() string { return q.prefix + ":messages" }
func (q *RedisQueue) retryKey() string { return q.prefix + ":retry" }
func (q *RedisQueue) deadKey() string  { return q.prefix + ":dead" }
