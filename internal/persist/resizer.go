package persist

import (
	"context"
	"math"
	"sync"

	"boardrelay/api/internal/canvas"
)

// SizeTolerance suppresses resize writes that only echo a size the store
// already has.
const SizeTolerance = 1.0

type Resize struct {
	ID     string
	Kind   canvas.Kind
	Width  float64
	Height float64
}

type ResizeWriter interface {
	WriteSizes(ctx context.Context, sizes []Resize) error
}

// Resizer debounces size writes on its own timer.
type Resizer struct {
	cfg    Config
	writer ResizeWriter
	queue  *debouncer[Resize]

	mu    sync.Mutex
	known map[string][2]float64
}

func NewResizer(writer ResizeWriter, cfg Config) *Resizer {
	r := &Resizer{cfg: cfg.withDefaults(), writer: writer, known: make(map[string][2]float64)}
	r.queue = newDebouncer(r.cfg.Clock, r.cfg.Delay, func(ids []string, sizes map[string]Resize) {
		list := collect(ids, sizes)
		r.cfg.Spawn(func() { r.write(list) })
	})
	return r
}

// Observe records a size reported by the store.
func (r *Resizer) Observe(id string, width, height float64) {
	r.mu.Lock()
	r.known[id] = [2]float64{width, height}
	r.mu.Unlock()
}

func (r *Resizer) Forget(id string) {
	r.mu.Lock()
	delete(r.known, id)
	r.mu.Unlock()
}

// Record queues rs unless it is within SizeTolerance of the last known size.
// It reports whether a write was queued.
func (r *Resizer) Record(rs Resize) bool {
	r.mu.Lock()
	last, ok := r.known[rs.ID]
	if ok && math.Abs(last[0]-rs.Width) <= SizeTolerance && math.Abs(last[1]-rs.Height) <= SizeTolerance {
		r.mu.Unlock()
		return false
	}
	r.known[rs.ID] = [2]float64{rs.Width, rs.Height}
	r.mu.Unlock()
	return r.queue.add(rs.ID, rs)
}

func (r *Resizer) Pending() int {
	return r.queue.size()
}

func (r *Resizer) Close() {
	ids, sizes := r.queue.close()
	if len(ids) > 0 {
		r.write(collect(ids, sizes))
	}
}

func (r *Resizer) write(sizes []Resize) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()
	if err := r.writer.WriteSizes(ctx, sizes); err != nil {
		r.cfg.Logger.WithError(err).WithField("count", len(sizes)).Warn("persist: size batch failed")
		return
	}
	ids := make([]string, 0, len(sizes))
	for _, s := range sizes {
		ids = append(ids, s.ID)
	}
	r.cfg.OnWritten(Written{IDs: ids})
}

func collect(ids []string, sizes map[string]Resize) []Resize {
	out := make([]Resize, 0, len(ids))
	for _, id := range ids {
		out = append(out, sizes[id])
	}
	return out
}
