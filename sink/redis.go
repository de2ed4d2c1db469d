package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream    = "scanner:batches"
	defaultStreamCap = 10000
)

// RedisStream appends every batch to a capped Redis stream for downstream
// inventory workers.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	now    func() time.Time
}

func NewRedisStream(rdb *redis.Client, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{rdb: rdb, stream: stream, now: time.Now}
}

// NewRedisClient connects and pings within timeout.
func NewRedisClient(ctx context.Context, rawURL string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisStream) Consume(ctx context.Context, codes []string) error {
	payload, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: defaultStreamCap,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"codes":      payload,
			"count":      len(codes),
			"flushed_at": s.now().UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
