package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// DefaultRedisPrefix namespaces snapshot keys.
const DefaultRedisPrefix = "klipy:snapshot:"

// Redis stores room snapshots in Redis so that several hub instances behind
// a load balancer restore the same state.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a Redis snapshot store.
type RedisOptions struct {
	// URL is a redis:// or rediss:// connection string.
	URL    string
	Prefix string
	// TTL expires snapshots of idle accounts. Zero keeps them forever.
	TTL time.Duration
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return NewRedis(client, opts), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: opts.TTL}
}

func (r *Redis) key(room string) string {
	return r.prefix + room
}

// Load returns the snapshot of a room, or nil when none was saved.
func (r *Redis) Load(ctx context.Context, room string) (*model.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", room, err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", room, err)
	}
	return &snap, nil
}

// Save writes the snapshot of a room.
func (r *Redis) Save(ctx context.Context, room string, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key(room), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", room, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
