package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/geom"
)

type call struct {
	op        string
	sessionID string
	text      string
	req       SessionRequest
}

type fakeDispatcher struct {
	mu        sync.Mutex
	calls     []call
	next      int
	createErr error
	promptErr error
}

func (d *fakeDispatcher) id() string {
	d.next++
	return fmt.Sprintf("s%d", d.next)
}

func (d *fakeDispatcher) CreateSession(_ context.Context, req SessionRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return "", d.createErr
	}
	id := d.id()
	d.calls = append(d.calls, call{op: "create", sessionID: id, req: req})
	return id, nil
}

func (d *fakeDispatcher) SendPrompt(_ context.Context, sessionID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{op: "prompt", sessionID: sessionID, text: text})
	return d.promptErr
}

func (d *fakeDispatcher) ForkSession(_ context.Context, sessionID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.id()
	d.calls = append(d.calls, call{op: "fork", sessionID: sessionID})
	return id, nil
}

func (d *fakeDispatcher) SpawnChild(_ context.Context, sessionID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.id()
	d.calls = append(d.calls, call{op: "spawn", sessionID: sessionID})
	return id, nil
}

func newTestEngine(t *testing.T, d Dispatcher) (*Engine, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	n := 0
	e := NewEngine(Options{
		Dispatcher: d,
		Logger:     logger,
		NewID: func() string {
			n++
			return fmt.Sprintf("choice-%d", n)
		},
		Now:   func() time.Time { return time.Unix(1_700_000_000, 0) },
		Spawn: func(fn func()) { fn() },
	})
	return e, hook
}

func zoneWith(id string, behavior canvas.TriggerBehavior, tmpl string) *canvas.Object {
	z := &canvas.Object{
		ID:       id,
		Kind:     canvas.KindZone,
		Position: geom.Point{X: 100, Y: 100},
		Width:    200,
		Height:   200,
		Zone:     &canvas.Zone{Label: "Review"},
	}
	if behavior != "" {
		z.Zone.Trigger = &canvas.Trigger{Behavior: behavior, Template: tmpl, Agent: "claude"}
	}
	return z
}

func pinnedDrop(previous string, zone *canvas.Object) canvas.Drop {
	obj := canvas.Object{
		ID:     "p1",
		Kind:   canvas.KindPinned,
		Pinned: &canvas.Pinned{EntityID: "wt-42", Title: "fix-login"},
	}
	if zone != nil {
		obj.ParentID = zone.ID
	}
	return canvas.Drop{
		Object:           obj,
		Mode:             canvas.GestureMove,
		PreviousParentID: previous,
		Parent:           zone,
	}
}

var board = BoardInfo{ID: "b1", Name: "Sprint"}

func TestAlwaysNewCreatesSessionAndSendsRenderedPrompt(t *testing.T) {
	d := &fakeDispatcher{}
	e, _ := newTestEngine(t, d)

	out := e.Evaluate(board, pinnedDrop("", zoneWith("z1", canvas.TriggerAlwaysNew, "Review {{.Entity.Title}} in {{.Zone.Label}} on {{.Board.Name}}")))
	if !out.Fired || out.Phase != PhaseDropped {
		t.Fatalf("expected fired trigger, got %+v", out)
	}
	if len(d.calls) != 2 {
		t.Fatalf("expected create+prompt, got %+v", d.calls)
	}
	create := d.calls[0]
	if create.op != "create" || create.req.WorktreeID != "wt-42" || create.req.ZoneID != "z1" || create.req.Agent != "claude" {
		t.Errorf("unexpected create call %+v", create)
	}
	prompt := d.calls[1]
	if prompt.op != "prompt" || prompt.sessionID != create.sessionID {
		t.Errorf("prompt sent to wrong session: %+v", prompt)
	}
	if prompt.text != "Review fix-login in Review on Sprint" {
		t.Errorf("unexpected prompt %q", prompt.text)
	}
	if e.Phase() != PhaseIdle {
		t.Errorf("expected idle after fire, got %s", e.Phase())
	}
}

func TestNoOpRepinNeverFires(t *testing.T) {
	for _, behavior := range []canvas.TriggerBehavior{canvas.TriggerAlwaysNew, canvas.TriggerShowPicker} {
		t.Run(string(behavior), func(t *testing.T) {
			d := &fakeDispatcher{}
			e, _ := newTestEngine(t, d)
			out := e.Evaluate(board, pinnedDrop("z1", zoneWith("z1", behavior, "go")))
			if out.Fired || out.Choice != nil {
				t.Fatalf("expected no trigger, got %+v", out)
			}
			if len(d.calls) != 0 {
				t.Fatalf("expected no dispatch, got %+v", d.calls)
			}
		})
	}
}

func TestDropWithoutZoneOrTrigger(t *testing.T) {
	d := &fakeDispatcher{}
	e, _ := newTestEngine(t, d)

	cases := []struct {
		name string
		drop canvas.Drop
	}{
		{"bare canvas", pinnedDrop("z1", nil)},
		{"zone without trigger", pinnedDrop("", zoneWith("z2", "", ""))},
		{"resize", func() canvas.Drop {
			dr := pinnedDrop("", zoneWith("z1", canvas.TriggerAlwaysNew, "go"))
			dr.Mode = canvas.GestureResize
			return dr
		}()},
		{"note", func() canvas.Drop {
			dr := pinnedDrop("", zoneWith("z1", canvas.TriggerAlwaysNew, "go"))
			dr.Object = canvas.Object{ID: "n1", Kind: canvas.KindNote, Note: &canvas.Note{}}
			return dr
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := e.Evaluate(board, tc.drop)
			if out.Fired || out.Choice != nil {
				t.Fatalf("expected no trigger, got %+v", out)
			}
		})
	}
	if len(d.calls) != 0 {
		t.Fatalf("expected no dispatch, got %+v", d.calls)
	}
}

func TestRenderFailureFallsBackToRawTemplate(t *testing.T) {
	d := &fakeDispatcher{}
	e, hook := newTestEngine(t, d)

	raw := "Look at {{.Entity.Nope}}"
	e.Evaluate(board, pinnedDrop("", zoneWith("z1", canvas.TriggerAlwaysNew, raw)))

	if len(d.calls) != 2 || d.calls[1].text != raw {
		t.Fatalf("expected raw template dispatched, got %+v", d.calls)
	}
	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning for the render failure")
	}
}

func TestAlwaysNewFailureIsOnlyLogged(t *testing.T) {
	d := &fakeDispatcher{createErr: errors.New("queue down")}
	e, hook := newTestEngine(t, d)

	out := e.Evaluate(board, pinnedDrop("", zoneWith("z1", canvas.TriggerAlwaysNew, "go")))
	if !out.Fired {
		t.Fatalf("expected trigger to be started, got %+v", out)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected warning log, got %+v", entry)
	}
}

func TestShowPickerAwaitsChoiceThenDispatches(t *testing.T) {
	d := &fakeDispatcher{}
	e, _ := newTestEngine(t, d)

	out := e.Evaluate(board, pinnedDrop("", zoneWith("z1", canvas.TriggerShowPicker, "Continue {{.Entity.ID}}")))
	if out.Phase != PhaseAwaitingUserChoice || out.Choice == nil {
		t.Fatalf("expected picker, got %+v", out)
	}
	if len(d.calls) != 0 {
		t.Fatalf("expected no dispatch before confirmation, got %+v", d.calls)
	}
	if e.Phase() != PhaseAwaitingUserChoice {
		t.Fatalf("expected awaiting phase, got %s", e.Phase())
	}

	sessionID, err := e.Confirm(context.Background(), out.Choice.ID, Choice{Target: TargetReuse, SessionID: "existing", Action: ActionFork})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(d.calls) != 2 || d.calls[0].op != "fork" || d.calls[0].sessionID != "existing" {
		t.Fatalf("expected fork of existing session, got %+v", d.calls)
	}
	if d.calls[1].sessionID != sessionID || d.calls[1].text != "Continue wt-42" {
		t.Fatalf("expected prompt to forked session, got %+v", d.calls[1])
	}
	if e.Phase() != PhaseIdle {
		t.Fatalf("expected idle after confirm, got %s", e.Phase())
	}
	if _, err := e.Confirm(context.Background(), out.Choice.ID, Choice{Target: TargetNew}); !errors.Is(err, ErrUnknownChoice) {
		t.Fatalf("expected ErrUnknownChoice on second confirm, got %v", err)
	}
}

func TestShowPickerConfirmNewSession(t *testing.T) {
	d := &fakeDispatcher{}
	e, _ := newTestEngine(t, d)
	out := e.Evaluate(board, pinnedDrop("", zoneWith("z1", canvas.TriggerShowPicker, "hi")))

	if _, err := e.Confirm(context.Background(), out.Choice.ID, Choice{Target: TargetNew}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(d.calls) != 2 || d.calls[0].op != "create" || d.calls[1].op != "prompt" {
		t.Fatalf("expected create+prompt, got %+v", d.calls)
	}
}

func TestShowPickerCancelDispatchesNothing(t *testing.T) {
	d := &fakeDispatcher{}
	e, _ := newTestEngine(t, d)
	out := e.Evaluate(board, pinnedDrop("z0", zoneWith("z1", canvas.TriggerShowPicker, "hi")))

	if err := e.Cancel(out.Choice.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if e.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", e.Phase())
	}
	if len(d.calls) != 0 {
		t.Fatalf("expected no dispatch, got %+v", d.calls)
	}
	if err := e.Cancel(out.Choice.ID); !errors.Is(err, ErrUnknownChoice) {
		t.Fatalf("expected ErrUnknownChoice, got %v", err)
	}
}

func TestConfirmRejectsInvalidChoice(t *testing.T) {
	d := &fakeDispatcher{}
	e, _ := newTestEngine(t, d)
	out := e.Evaluate(board, pinnedDrop("", zoneWith("z1", canvas.TriggerShowPicker, "hi")))

	if _, err := e.Confirm(context.Background(), out.Choice.ID, Choice{Target: TargetReuse, Action: ActionPrompt}); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("expected ErrInvalidChoice, got %v", err)
	}
	if len(e.PendingChoices()) != 1 {
		t.Fatal("invalid choice must leave the picker open")
	}
}

func TestTextRenderer(t *testing.T) {
	out, err := TextRenderer{}.Render("{{.Zone.Label}}/{{.Entity.Title}}", Context{
		Zone:   ZoneInfo{Label: "QA"},
		Entity: EntityInfo{Title: "wt"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "QA/wt" {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := (TextRenderer{}).Render("{{", Context{}); err == nil {
		t.Fatal("expected parse error")
	}
}
