// Package trigger fires a zone's configured action when a pinned entity is
// dropped into it.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"boardrelay/api/internal/canvas"
)

var (
	ErrUnknownChoice = errors.New("unknown trigger choice")
	ErrInvalidChoice = errors.New("invalid trigger choice")
)

type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseDropped            Phase = "dropped"
	PhaseAwaitingUserChoice Phase = "awaiting_user_choice"
)

// SessionRequest asks the agent daemon for a new session on a worktree.
type SessionRequest struct {
	BoardID    string
	ZoneID     string
	WorktreeID string
	Agent      string
}

// Dispatcher starts and drives agent sessions. Calls are asynchronous on the
// agent side; returning nil only means the command was accepted.
type Dispatcher interface {
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
	SendPrompt(ctx context.Context, sessionID, text string) error
	ForkSession(ctx context.Context, sessionID string) (string, error)
	SpawnChild(ctx context.Context, sessionID string) (string, error)
}

type Target string

const (
	TargetNew   Target = "new"
	TargetReuse Target = "reuse"
)

type Action string

const (
	ActionPrompt Action = "prompt"
	ActionFork   Action = "fork"
	ActionSpawn  Action = "spawn"
)

// Choice is the viewer's answer to a picker.
type Choice struct {
	Target    Target `json:"target"`
	SessionID string `json:"sessionId,omitempty"`
	Action    Action `json:"action,omitempty"`
}

func (c Choice) validate() error {
	switch c.Target {
	case TargetNew:
		return nil
	case TargetReuse:
		if c.SessionID == "" {
			return fmt.Errorf("%w: reuse needs a session id", ErrInvalidChoice)
		}
		switch c.Action {
		case ActionPrompt, ActionFork, ActionSpawn:
			return nil
		}
		return fmt.Errorf("%w: action %q", ErrInvalidChoice, c.Action)
	}
	return fmt.Errorf("%w: target %q", ErrInvalidChoice, c.Target)
}

// Pending is a picker waiting for the viewer.
type Pending struct {
	ID       string         `json:"id"`
	Context  Context        `json:"context"`
	Trigger  canvas.Trigger `json:"trigger"`
	OpenedAt time.Time      `json:"openedAt"`
}

// Outcome reports what a drop did.
type Outcome struct {
	Phase Phase
	// Fired is set when an always_new trigger was started.
	Fired bool
	// Choice is set when a picker was opened.
	Choice *Pending
}

type Options struct {
	Dispatcher Dispatcher
	Renderer   Renderer
	Logger     logrus.FieldLogger
	NewID      func() string
	Now        func() time.Time
	// Spawn runs background triggers. It defaults to a new goroutine.
	Spawn   func(func())
	Timeout time.Duration
}

// Engine evaluates drops for one canvas session.
type Engine struct {
	dispatcher Dispatcher
	renderer   Renderer
	log        logrus.FieldLogger
	newID      func() string
	now        func() time.Time
	spawn      func(func())
	timeout    time.Duration

	mu      sync.Mutex
	phase   Phase
	pending map[string]Pending
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		dispatcher: opts.Dispatcher,
		renderer:   opts.Renderer,
		log:        opts.Logger,
		newID:      opts.NewID,
		now:        opts.Now,
		spawn:      opts.Spawn,
		timeout:    opts.Timeout,
		phase:      PhaseIdle,
		pending:    make(map[string]Pending),
	}
	if e.renderer == nil {
		e.renderer = TextRenderer{}
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.spawn == nil {
		e.spawn = func(fn func()) { go fn() }
	}
	if e.timeout <= 0 {
		e.timeout = 15 * time.Second
	}
	return e
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// PendingChoices lists open pickers, oldest first.
func (e *Engine) PendingChoices() []Pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Pending, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Evaluate decides whether a finished gesture fires its zone's trigger. Only
// move gestures on pinned entities that land in a different zone than they
// started in are considered.
func (e *Engine) Evaluate(board BoardInfo, drop canvas.Drop) Outcome {
	if drop.Object.Kind != canvas.KindPinned || drop.Mode != canvas.GestureMove {
		return Outcome{Phase: e.Phase()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = PhaseDropped
	defer e.settle()

	zone := drop.Parent
	if zone == nil || zone.Kind != canvas.KindZone {
		return Outcome{Phase: PhaseDropped}
	}
	if zone.ID == drop.PreviousParentID {
		return Outcome{Phase: PhaseDropped}
	}
	trig := zone.TriggerConfig()
	if trig == nil {
		return Outcome{Phase: PhaseDropped}
	}

	tctx := buildContext(board, *zone, drop.Object)
	log := e.log.WithFields(logrus.Fields{
		"board_id":  board.ID,
		"zone_id":   zone.ID,
		"object_id": drop.Object.ID,
		"behavior":  trig.Behavior,
	})

	switch trig.Behavior {
	case canvas.TriggerAlwaysNew:
		cfg := *trig
		log.Info("trigger: starting new session")
		e.spawn(func() { e.fireNew(log, tctx, cfg) })
		return Outcome{Phase: PhaseDropped, Fired: true}
	case canvas.TriggerShowPicker:
		p := Pending{ID: e.newID(), Context: tctx, Trigger: *trig, OpenedAt: e.now()}
		e.pending[p.ID] = p
		log.WithField("choice_id", p.ID).Info("trigger: awaiting choice")
		return Outcome{Phase: PhaseAwaitingUserChoice, Choice: &p}
	default:
		log.Warn("trigger: unknown behavior, ignoring")
		return Outcome{Phase: PhaseDropped}
	}
}

// settle moves the engine out of Dropped once the drop has been handled.
// Callers hold e.mu.
func (e *Engine) settle() {
	if len(e.pending) > 0 {
		e.phase = PhaseAwaitingUserChoice
		return
	}
	e.phase = PhaseIdle
}

func (e *Engine) fireNew(log logrus.FieldLogger, tctx Context, cfg canvas.Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if _, err := e.startNew(ctx, tctx, cfg); err != nil {
		log.WithError(err).Warn("trigger: dispatch failed")
	}
}

func (e *Engine) startNew(ctx context.Context, tctx Context, cfg canvas.Trigger) (string, error) {
	sessionID, err := e.dispatcher.CreateSession(ctx, SessionRequest{
		BoardID:    tctx.Board.ID,
		ZoneID:     tctx.Zone.ID,
		WorktreeID: tctx.Entity.ID,
		Agent:      cfg.Agent,
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if err := e.dispatcher.SendPrompt(ctx, sessionID, e.render(cfg.Template, tctx)); err != nil {
		return sessionID, fmt.Errorf("send prompt: %w", err)
	}
	return sessionID, nil
}

// render falls back to the raw template when expansion fails.
func (e *Engine) render(tmpl string, tctx Context) string {
	out, err := e.renderer.Render(tmpl, tctx)
	if err != nil {
		e.log.WithError(err).WithField("zone_id", tctx.Zone.ID).Warn("trigger: template render failed, using raw template")
		return tmpl
	}
	return out
}

// Confirm answers a picker and dispatches the chosen action. It returns the
// session that received the prompt.
func (e *Engine) Confirm(ctx context.Context, choiceID string, choice Choice) (string, error) {
	if err := choice.validate(); err != nil {
		return "", err
	}
	p, err := e.take(choiceID)
	if err != nil {
		return "", err
	}

	if choice.Target == TargetNew {
		return e.startNew(ctx, p.Context, p.Trigger)
	}

	sessionID := choice.SessionID
	switch choice.Action {
	case ActionFork:
		sessionID, err = e.dispatcher.ForkSession(ctx, choice.SessionID)
		if err != nil {
			return "", fmt.Errorf("fork session: %w", err)
		}
	case ActionSpawn:
		sessionID, err = e.dispatcher.SpawnChild(ctx, choice.SessionID)
		if err != nil {
			return "", fmt.Errorf("spawn child: %w", err)
		}
	case ActionPrompt:
	}
	if err := e.dispatcher.SendPrompt(ctx, sessionID, e.render(p.Trigger.Template, p.Context)); err != nil {
		return sessionID, fmt.Errorf("send prompt: %w", err)
	}
	return sessionID, nil
}

// Cancel closes a picker without dispatching anything.
func (e *Engine) Cancel(choiceID string) error {
	_, err := e.take(choiceID)
	return err
}

func (e *Engine) take(choiceID string) (Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[choiceID]
	if !ok {
		return Pending{}, fmt.Errorf("%w: %s", ErrUnknownChoice, choiceID)
	}
	delete(e.pending, choiceID)
	e.settle()
	return p, nil
}

func buildContext(board BoardInfo, zone, entity canvas.Object) Context {
	tctx := Context{
		Board:  board,
		Zone:   ZoneInfo{ID: zone.ID},
		Entity: EntityInfo{ObjectID: entity.ID},
	}
	if zone.Zone != nil {
		tctx.Zone.Label = zone.Zone.Label
	}
	if entity.Pinned != nil {
		tctx.Entity.ID = entity.Pinned.EntityID
		tctx.Entity.Title = entity.Pinned.Title
	}
	return tctx
}
