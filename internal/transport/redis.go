package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	ArchiveLen int64
}

// RedisSink keeps the latest snapshot under <prefix>:latest and a capped
// list of recent raw packets under <prefix>:tm.
type RedisSink struct {
	client     *redis.Client
	latestKey  string
	archiveKey string
	archiveLen int64
}

// NewRedisSink connects and pings the server.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("transport: ping redis %s: %w", cfg.Addr, err)
	}
	return newRedisSink(client, cfg), nil
}

func newRedisSink(client *redis.Client, cfg RedisConfig) *RedisSink {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "smallsat"
	}
	n := cfg.ArchiveLen
	if n <= 0 {
		n = 1000
	}
	return &RedisSink{
		client:     client,
		latestKey:  prefix + ":latest",
		archiveKey: prefix + ":tm",
		archiveLen: n,
	}
}

func (s *RedisSink) Name() string { return "redis" }

// Publish writes both keys in one transaction.
func (s *RedisSink) Publish(ctx context.Context, f Frame) error {
	state, err := json.Marshal(f.Snapshot)
	if err != nil {
		return fmt.Errorf("transport: encode snapshot: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.latestKey, state, 0)
	pipe.LPush(ctx, s.archiveKey, f.Packet)
	pipe.LTrim(ctx, s.archiveKey, 0, s.archiveLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("transport: redis publish: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.client.Close() }
