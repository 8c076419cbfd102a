package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"boardrelay/api/internal/trigger"
)

func setupQueue(t *testing.T) *Queue {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	q := NewQueue(client, "")
	q.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return q
}

func TestQueuePreservesOrder(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	id, err := q.CreateSession(ctx, trigger.SessionRequest{BoardID: "b1", ZoneID: "z1", WorktreeID: "wt-1", Agent: "claude"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id == "" {
		t.Fatal("expected allocated session id")
	}
	if err := q.SendPrompt(ctx, id, "review please"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Fatalf("expected 2 queued commands, got %d", n)
	}

	first, ok, err := q.Next(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if first.Op != OpCreateSession || first.SessionID != id || first.WorktreeID != "wt-1" || first.Agent != "claude" {
		t.Fatalf("unexpected first command %+v", first)
	}
	if !first.QueuedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected queued_at %v", first.QueuedAt)
	}

	second, ok, err := q.Next(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if second.Op != OpPrompt || second.SessionID != id || second.Text != "review please" {
		t.Fatalf("unexpected second command %+v", second)
	}
}

func TestForkAndSpawnAllocateNewSessions(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	forked, err := q.ForkSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("ForkSession: %v", err)
	}
	child, err := q.SpawnChild(ctx, "s-1")
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}
	if forked == "s-1" || child == "s-1" || forked == child {
		t.Fatalf("expected fresh ids, got fork=%s child=%s", forked, child)
	}

	cmd, _, _ := q.Next(ctx, time.Second)
	if cmd.Op != OpFork || cmd.SourceSessionID != "s-1" || cmd.SessionID != forked {
		t.Fatalf("unexpected fork command %+v", cmd)
	}
	cmd, _, _ = q.Next(ctx, time.Second)
	if cmd.Op != OpSpawnChild || cmd.SessionID != child {
		t.Fatalf("unexpected spawn command %+v", cmd)
	}
}

func TestNextOnEmptyQueue(t *testing.T) {
	q := setupQueue(t)
	_, ok, err := q.Next(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatal("expected empty queue")
	}
}
