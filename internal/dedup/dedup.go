// Package dedup provides opt-in idempotency keys for pipeline stages.
// Delivery stays at-least-once; dedup only lets a worker skip reprocessing
// a document it has already completed within the TTL window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docflow-systems/docflow-stack/internal/metrics"
)

// Deduper records stage completions and answers whether a document was
// already processed by a stage.
type Deduper interface {
	// Seen atomically claims the (stage, documentID) pair. The first
	// caller gets false and owns the work; later callers within the TTL
	// get true and should complete without reprocessing.
	Seen(ctx context.Context, stage, documentID string) (bool, error)
	Close() error
}

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper connects to Redis and verifies the connection.
func NewRedisDeduper(redisURL string, ttl time.Duration) (Deduper, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisDeduper{
		client: client,
		ttl:    ttl,
	}, nil
}

func key(stage, documentID string) string {
	return fmt.Sprintf("docflow:seen:%s:%s", stage, documentID)
}

func (d *redisDeduper) Seen(ctx context.Context, stage, documentID string) (bool, error) {
	claimed, err := d.client.SetNX(ctx, key(stage, documentID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}

	if !claimed {
		metrics.DuplicatesSkipped.WithLabelValues(stage).Inc()
	}
	return !claimed, nil
}

func (d *redisDeduper) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// NoOpDeduper never reports duplicates (dedup disabled).
type NoOpDeduper struct{}

func (NoOpDeduper) Seen(ctx context.Context, stage, documentID string) (bool, error) {
	return false, nil
}

func (NoOpDeduper) Close() error {
	return nil
}
