// Package session holds the short-lived, cross-relay state of board viewers:
// live cursors and board change notifications.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultCursorTTL = 30 * time.Second

// Cursor is one viewer's pointer on a board.
type Cursor struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisStore keeps cursors in Redis, one key per session, expiring after ttl
// so abandoned viewers disappear on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed cursor store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultCursorTTL
	}
	return &RedisStore{
		client: client,
		prefix: "cursor:",
		ttl:    ttl,
	}
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) boardPattern(boardID string) string {
	return s.prefix + boardID + ":*"
}

func (s *RedisStore) key(boardID, sessionID string) string {
	return s.prefix + boardID + ":" + sessionID
}

// SaveCursor stores the cursor and refreshes its expiry
func (s *RedisStore) SaveCursor(ctx context.Context, boardID string, cursor Cursor) error {
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := s.client.Set(ctx, s.key(boardID, cursor.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// ListCursors returns the live cursors on a board ordered by session id
func (s *RedisStore) ListCursors(ctx context.Context, boardID string) ([]Cursor, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.boardPattern(boardID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan cursors: %w", err)
	}
	if len(keys) == 0 {
		return []Cursor{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	cursors := make([]Cursor, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		var c Cursor
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("unmarshal cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].SessionID < cursors[j].SessionID })
	return cursors, nil
}

// RemoveCursor deletes a session's cursor
func (s *RedisStore) RemoveCursor(ctx context.Context, boardID, sessionID string) error {
	if err := s.client.Del(ctx, s.key(boardID, sessionID)).Err(); err != nil {
		return fmt.Errorf("remove cursor: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
