// Package queue provides the asynchronous job queue decoupling slow work
// from the loops that request it. Two backends exist: Redis for durable
// multi-process deployments and an in-memory channel queue for single-node
// runs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Service is the producer surface handed to components that enqueue work.
type Service interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Queue is the full backend surface: producing, consuming and lifecycle.
type Queue interface {
	Service
	RegisterJob(Job)
	Start() error
	Stop(ctx context.Context) error
}

// Job is a registered handler for one message type.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type the job consumes.
	Type() string

	// Handle processes one payload. A returned error triggers a retry until
	// the retry limit, then the message is parked on the dead letter list.
	Handle(ctx context.Context, payload interface{}) error
}

// Config bounds queue consumption.
type Config struct {
	Workers    int
	QueueSize  int
	RetryLimit int
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
}

// Message is the envelope carried through a queue backend.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParsePayload recovers a typed payload from whatever shape the backend
// delivered: the original value for in-memory delivery, raw JSON or a
// generic map after a Redis round trip.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
}
