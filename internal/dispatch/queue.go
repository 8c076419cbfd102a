// Package dispatch queues agent session commands on a Redis list for the
// agent daemon to consume.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"boardrelay/api/internal/codec"
	"boardrelay/api/internal/trigger"
	"boardrelay/api/internal/util"
)

const DefaultQueueKey = "agent:commands"

type Op string

const (
	OpCreateSession Op = "create_session"
	OpPrompt        Op = "prompt"
	OpFork          Op = "fork"
	OpSpawnChild    Op = "spawn_child"
)

// Command is one queued instruction. SessionID is the session the command
// creates or targets; SourceSessionID is set for fork and spawn.
type Command struct {
	Op              Op        `cbor:"op"`
	SessionID       string    `cbor:"session_id"`
	SourceSessionID string    `cbor:"source_session_id,omitempty"`
	BoardID         string    `cbor:"board_id,omitempty"`
	ZoneID          string    `cbor:"zone_id,omitempty"`
	WorktreeID      string    `cbor:"worktree_id,omitempty"`
	Agent           string    `cbor:"agent,omitempty"`
	Text            string    `cbor:"text,omitempty"`
	QueuedAt        time.Time `cbor:"queued_at"`
}

// Queue implements trigger.Dispatcher. Session ids are allocated here so
// callers can address a session before the daemon has picked it up.
type Queue struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

var _ trigger.Dispatcher = (*Queue)(nil)

func NewQueue(client *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{client: client, key: key, now: time.Now}
}

func (q *Queue) push(ctx context.Context, cmd Command) error {
	cmd.QueuedAt = q.now().UTC()
	data, err := codec.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Op, err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("queue %s command: %w", cmd.Op, err)
	}
	return nil
}

func (q *Queue) CreateSession(ctx context.Context, req trigger.SessionRequest) (string, error) {
	id := util.NewID("sess")
	err := q.push(ctx, Command{
		Op:         OpCreateSession,
		SessionID:  id,
		BoardID:    req.BoardID,
		ZoneID:     req.ZoneID,
		WorktreeID: req.WorktreeID,
		Agent:      req.Agent,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (q *Queue) SendPrompt(ctx context.Context, sessionID, text string) error {
	return q.push(ctx, Command{Op: OpPrompt, SessionID: sessionID, Text: text})
}

func (q *Queue) ForkSession(ctx context.Context, sessionID string) (string, error) {
	return q.derive(ctx, OpFork, sessionID)
}

func (q *Queue) SpawnChild(ctx context.Context, sessionID string) (string, error) {
	return q.derive(ctx, OpSpawnChild, sessionID)
}

func (q *Queue) derive(ctx context.Context, op Op, source string) (string, error) {
	id := util.NewID("sess")
	if err := q.push(ctx, Command{Op: op, SessionID: id, SourceSessionID: source}); err != nil {
		return "", err
	}
	return id, nil
}

// Next pops the oldest command, waiting up to timeout. It returns false when
// the queue stayed empty.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (Command, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Command{}, false, nil
	}
	if err != nil {
		return Command{}, false, fmt.Errorf("pop command: %w", err)
	}
	// BRPOP replies with [key, value].
	var cmd Command
	if err := codec.Unmarshal([]byte(res[1]), &cmd); err != nil {
		return Command{}, false, err
	}
	return cmd, true, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
