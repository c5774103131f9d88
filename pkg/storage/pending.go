// Package storage holds the persistence backends: pending intent stores,
// the transaction ledger and the wallet directory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stablezap/stablezap/pkg/models"
)

const pendingKeyPrefix = "stablezap:pending:"

// MemoryPendingStore keeps pending intents in process memory
type MemoryPendingStore struct {
	mu      sync.Mutex
	records map[string]*models.PendingIntent
}

// NewMemoryPendingStore creates an empty store
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{records: make(map[string]*models.PendingIntent)}
}

func (s *MemoryPendingStore) Save(_ context.Context, p *models.PendingIntent, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.records, p.Intent.UserID)
		return nil
	}
	cp, err := clonePending(p)
	if err != nil {
		return err
	}
	s.records[p.Intent.UserID] = cp
	return nil
}

func (s *MemoryPendingStore) Get(_ context.Context, userID string) (*models.PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return clonePending(p)
}

func (s *MemoryPendingStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *MemoryPendingStore) List(_ context.Context) ([]*models.PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PendingIntent, 0, len(s.records))
	for _, p := range s.records {
		cp, err := clonePending(p)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// RedisPendingStore keeps pending intents in Redis as JSON with a key TTL
type RedisPendingStore struct {
	client *redis.Client
}

// NewRedisPendingStore wraps a Redis client
func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

// ConnectRedis parses a redis:// URL and pings the server
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *RedisPendingStore) Save(ctx context.Context, p *models.PendingIntent, ttl time.Duration) error {
	key := pendingKeyPrefix + p.Intent.UserID
	if ttl <= 0 {
		return s.client.Del(ctx, key).Err()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

func (s *RedisPendingStore) Get(ctx context.Context, userID string) (*models.PendingIntent, error) {
	payload, err := s.client.Get(ctx, pendingKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.PendingIntent
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("corrupt pending intent for %s: %w", userID, err)
	}
	return &p, nil
}

func (s *RedisPendingStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, pendingKeyPrefix+userID).Err()
}

func (s *RedisPendingStore) List(ctx context.Context) ([]*models.PendingIntent, error) {
	var out []*models.PendingIntent
	iter := s.client.Scan(ctx, 0, pendingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var p models.PendingIntent
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("corrupt pending intent %s: %w", iter.Val(), err)
		}
		out = append(out, &p)
	}
	return out, iter.Err()
}

// Ping checks the connection for readiness probes
func (s *RedisPendingStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func clonePending(p *models.PendingIntent) (*models.PendingIntent, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var cp models.PendingIntent
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
