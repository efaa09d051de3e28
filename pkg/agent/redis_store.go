package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore persists sessions in Redis so any node can pick up a
// conversation mid-engagement. Expiry is delegated to Redis TTLs, one
// key per session.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log *logrus.Entry
}

// redisKeyPrefix namespaces session keys in a shared Redis.
const redisKeyPrefix = "trapline:session:"

// NewRedisStore connects to Redis at url (redis:// or rediss://) and
// verifies the connection with a ping before returning.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 500 * time.Millisecond
	opt.WriteTimeout = 500 * time.Millisecond

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 1 * time.Hour
	}

	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		log: logrus.WithField("component", "redis_store"),
	}, nil
}

// Get retrieves a session by id. Returns nil, nil if the key is absent
// or the stored payload no longer parses.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		// Corrupt payloads read as a miss so the turn still gets served
		s.log.WithError(err).WithField("session_id", id).Warn("Discarding unparseable session payload")
		return nil, nil
	}
	return &session, nil
}

// Put stores the session under its TTL, refreshing expiry on every turn.
func (s *RedisStore) Put(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+session.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies liveness for the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Stats counts live session keys. Uses SCAN so a large keyspace does
// not block the server.
func (s *RedisStore) Stats() StoreStats {
	stats := StoreStats{Backend: "redis"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			s.log.WithError(err).Debug("Session scan failed")
			return stats
		}
		stats.SessionCount += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats
}
