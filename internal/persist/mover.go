package persist

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/clock"
	"boardrelay/api/internal/geom"
)

// ParentChange is a re-assignment carried by a move. An empty ID detaches
// the object from its parent.
type ParentChange struct {
	ID   string
	Kind canvas.Kind
}

// Move is the storage position of one object after a gesture. Position is
// relative to the object's parent when it has one.
type Move struct {
	ID       string
	Kind     canvas.Kind
	Position geom.Point
	// Parent is set only when the gesture changed the parent.
	Parent *ParentChange
	// EntityID identifies the worktree behind a pinned entity.
	EntityID string
}

// Batch is one flush, split by the store API each category goes through.
type Batch struct {
	// Objects holds zones and notes, written through the board's batch upsert.
	Objects  []Move
	Pinned   []Move
	Comments []Move
}

func (b Batch) Len() int {
	return len(b.Objects) + len(b.Pinned) + len(b.Comments)
}

func (b Batch) IDs() []string {
	out := make([]string, 0, b.Len())
	for _, group := range [][]Move{b.Objects, b.Pinned, b.Comments} {
		for _, m := range group {
			out = append(out, m.ID)
		}
	}
	return out
}

// Written reports a committed flush. Moves is empty for size batches.
type Written struct {
	IDs   []string
	Moves []Move
}

type MoveWriter interface {
	WriteMoves(ctx context.Context, batch Batch) error
}

// Config is shared by Mover and Resizer.
type Config struct {
	Clock        clock.Clock
	Delay        time.Duration
	Logger       logrus.FieldLogger
	WriteTimeout time.Duration
	// Spawn runs a flush. It defaults to a new goroutine.
	Spawn func(func())
	// OnWritten is called after a batch committed.
	OnWritten func(Written)
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Spawn == nil {
		c.Spawn = func(fn func()) { go fn() }
	}
	if c.OnWritten == nil {
		c.OnWritten = func(Written) {}
	}
	return c
}

// Mover debounces position writes for one canvas session.
type Mover struct {
	cfg    Config
	writer MoveWriter
	queue  *debouncer[Move]
}

func NewMover(writer MoveWriter, cfg Config) *Mover {
	m := &Mover{cfg: cfg.withDefaults(), writer: writer}
	m.queue = newDebouncer(m.cfg.Clock, m.cfg.Delay, func(ids []string, moves map[string]Move) {
		batch := partition(ids, moves)
		m.cfg.Spawn(func() { m.write(batch) })
	})
	m.queue.merge = func(prev, next Move) Move {
		if next.Parent == nil {
			next.Parent = prev.Parent
		}
		return next
	}
	return m
}

// Record queues mv, replacing any pending move of the same object, and
// restarts the quiet-period timer. A parent change already pending for the
// object is kept when mv carries none.
func (m *Mover) Record(mv Move) {
	if !m.queue.add(mv.ID, mv) {
		m.cfg.Logger.WithField("object_id", mv.ID).Warn("persist: move recorded after close, dropping")
	}
}

func (m *Mover) Pending() int {
	return m.queue.size()
}

// Queued reports whether a move of id is waiting for the next flush.
func (m *Mover) Queued(id string) bool {
	_, ok := m.queue.get(id)
	return ok
}

// PendingParent returns the parent change queued for id, if any.
func (m *Mover) PendingParent(id string) (ParentChange, bool) {
	mv, ok := m.queue.get(id)
	if !ok || mv.Parent == nil {
		return ParentChange{}, false
	}
	return *mv.Parent, true
}

// Close stops the timer and writes anything still pending before returning.
func (m *Mover) Close() {
	ids, moves := m.queue.close()
	if len(ids) > 0 {
		m.write(partition(ids, moves))
	}
}

func (m *Mover) write(batch Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := m.writer.WriteMoves(ctx, batch); err != nil {
		// No rollback: the next snapshot corrects the canvas.
		m.cfg.Logger.WithError(err).WithField("count", batch.Len()).Warn("persist: position batch failed")
		return
	}
	moves := make([]Move, 0, batch.Len())
	for _, group := range [][]Move{batch.Objects, batch.Pinned, batch.Comments} {
		moves = append(moves, group...)
	}
	m.cfg.OnWritten(Written{IDs: batch.IDs(), Moves: moves})
}

func partition(ids []string, moves map[string]Move) Batch {
	var batch Batch
	for _, id := range ids {
		mv := moves[id]
		switch mv.Kind {
		case canvas.KindZone, canvas.KindNote:
			batch.Objects = append(batch.Objects, mv)
		case canvas.KindPinned:
			batch.Pinned = append(batch.Pinned, mv)
		case canvas.KindComment:
			batch.Comments = append(batch.Comments, mv)
		case canvas.KindCursor:
			// Cursors are presence, never persisted as positions.
		}
	}
	return batch
}
