// Package dedup remembers webhook event ids so redelivered events are
// processed at most once.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL    = 24 * time.Hour
	defaultPrefix = "conceptbot:event"
)

// Deduplicator reports whether an event id is being seen for the first time.
// Release gives a claimed id back so a redelivery is processed again.
type Deduplicator interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Nop treats every event as new.
type Nop struct{}

func (Nop) FirstSeen(context.Context, string) (bool, error) { return true, nil }

func (Nop) Release(context.Context, string) error { return nil }

type RedisDeduplicator struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects using a redis:// URL.
func NewRedis(url, prefix string, ttl time.Duration) (*RedisDeduplicator, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("dedup redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDeduplicator{client: redis.NewClient(opts), prefix: prefix, ttl: ttl}, nil
}

// FirstSeen claims the id. Empty ids cannot be tracked and always count as new.
func (d *RedisDeduplicator) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := d.client.SetNX(ctx, d.prefix+":"+eventID, 1, d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

func (d *RedisDeduplicator) Release(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.client.Del(ctx, d.prefix+":"+eventID).Err(); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

func (d *RedisDeduplicator) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
