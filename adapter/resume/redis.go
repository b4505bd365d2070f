package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists stream frames in Redis so resume works across
// processes. Frames live in a list per stream id; completion is a separate
// key. Both expire with the configured TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis at addr. An empty addr disables the
// distributed store and the caller should fall back to MemStore.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, ttl: ttl}
}

// Ping verifies connectivity, used at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func framesKey(streamID string) string { return fmt.Sprintf("stream:%s:frames", streamID) }
func doneKey(streamID string) string   { return fmt.Sprintf("stream:%s:done", streamID) }

func (s *RedisStore) Append(ctx context.Context, streamID string, frame streaming.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, framesKey(streamID), data)
	pipe.Expire(ctx, framesKey(streamID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append frame: %w", err)
	}
	return nil
}

func (s *RedisStore) Replay(ctx context.Context, streamID string) ([]streaming.Frame, error) {
	raw, err := s.client.LRange(ctx, framesKey(streamID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %v: %w", streamID, err)
	}
	frames := make([]streaming.Frame, 0, len(raw))
	for _, item := range raw {
		var frame streaming.Frame
		if err := json.Unmarshal([]byte(item), &frame); err != nil {
			return nil, fmt.Errorf("corrupted frame in stream %v: %w", streamID, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (s *RedisStore) Complete(ctx context.Context, streamID string) error {
	if err := s.client.Set(ctx, doneKey(streamID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark stream %v complete: %w", streamID, err)
	}
	return nil
}

func (s *RedisStore) Completed(ctx context.Context, streamID string) (bool, error) {
	_, err := s.client.Get(ctx, doneKey(streamID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check stream %v: %w", streamID, err)
	}
	return true, nil
}
