package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"AlgoArena/internal/domain/models"
)

// RedisSnapshotStore persists resumable engine state in Redis: the agent
// records and the serialized trigger windows. Strategy handles are not
// serialized; the loader recompiles them from the stored source.
type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSnapshotStore(client *redis.Client, prefix string) *RedisSnapshotStore {
	if prefix == "" {
		prefix = "algoarena"
	}
	return &RedisSnapshotStore{client: client, prefix: prefix}
}

func (s *RedisSnapshotStore) agentsKey() string  { return s.prefix + ":snapshot:agents" }
func (s *RedisSnapshotStore) windowsKey() string { return s.prefix + ":snapshot:windows" }

// SaveAgents stores the full agent set as one JSON blob. Partial snapshots
// are worse than stale ones, so the write is all or nothing.
func (s *RedisSnapshotStore) SaveAgents(ctx context.Context, agents []*models.Agent) error {
	raw, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	if err := s.client.Set(ctx, s.agentsKey(), raw, 0).Err(); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	return nil
}

// LoadAgents returns the stored agent set, or nil when none exists.
func (s *RedisSnapshotStore) LoadAgents(ctx context.Context) ([]*models.Agent, error) {
	raw, err := s.client.Get(ctx, s.agentsKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load agents: %w", err)
	}
	var agents []*models.Agent
	if err := json.Unmarshal(raw, &agents); err != nil {
		return nil, fmt.Errorf("unmarshal agents: %w", err)
	}
	return agents, nil
}

// SaveWindows stores the serialized trigger windows.
func (s *RedisSnapshotStore) SaveWindows(ctx context.Context, blob []byte) error {
	if err := s.client.Set(ctx, s.windowsKey(), blob, 0).Err(); err != nil {
		return fmt.Errorf("save windows: %w", err)
	}
	return nil
}

// LoadWindows returns the stored windows blob, or nil when none exists.
func (s *RedisSnapshotStore) LoadWindows(ctx context.Context) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.windowsKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load windows: %w", err)
	}
	return raw, nil
}

// Clear drops both snapshot keys. The hard reset calls this.
func (s *RedisSnapshotStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.agentsKey(), s.windowsKey()).Err(); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}
