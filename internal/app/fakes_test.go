package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"boardrelay/api/internal/clock"
	"boardrelay/api/internal/config"
	"boardrelay/api/internal/export"
	"boardrelay/api/internal/search"
	"boardrelay/api/internal/session"
	"boardrelay/api/internal/store"
	"boardrelay/api/internal/trigger"
)

// memStore is an in-memory board store with the same merge rules as the
// Postgres one.
type memStore struct {
	mu       sync.Mutex
	boards   map[string]store.Board
	pinned   map[string]store.PinnedEntity
	comments map[string]store.Comment
	order    int

	pingErr    error
	upsertErr  error
	keepOnDrop bool // deletes report success but leave the rows behind

	objectPatches []map[string]store.ObjectPatch
	pinnedPatches []pinnedPatchCall
	commentCalls  []commentPatchCall
}

type pinnedPatchCall struct {
	ID    string
	Patch store.PinnedPatch
}

type commentPatchCall struct {
	ID         string
	Position   store.CommentPosition
	WorktreeID *string
}

func newMemStore() *memStore {
	return &memStore{
		boards:   map[string]store.Board{},
		pinned:   map[string]store.PinnedEntity{},
		comments: map[string]store.Comment{},
	}
}

func (m *memStore) nextTime() time.Time {
	m.order++
	return time.Unix(1_700_000_000, 0).Add(time.Duration(m.order) * time.Second).UTC()
}

func (m *memStore) addBoard(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[id] = store.Board{ID: id, Name: name, Objects: map[string]store.BoardObject{}}
}

func (m *memStore) addObject(boardID, id string, obj store.BoardObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = m.nextTime()
	}
	m.boards[boardID].Objects[id] = obj
}

func (m *memStore) addPinned(p store.PinnedEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.nextTime()
	m.pinned[p.ID] = p
}

func (m *memStore) object(boardID, id string) (store.BoardObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.boards[boardID].Objects[id]
	return obj, ok
}

func (m *memStore) pinnedEntity(id string) (store.PinnedEntity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pinned[id]
	return p, ok
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) CreateBoard(_ context.Context, id, name string) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board := store.Board{ID: id, Name: name, Objects: map[string]store.BoardObject{}, CreatedAt: m.nextTime()}
	m.boards[id] = board
	return board, nil
}

func (m *memStore) GetBoard(_ context.Context, id string) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, ok := m.boards[id]
	if !ok {
		return store.Board{}, fmt.Errorf("board %s: %w", id, store.ErrNotFound)
	}
	objects := make(map[string]store.BoardObject, len(board.Objects))
	for k, v := range board.Objects {
		objects[k] = v
	}
	board.Objects = objects
	return board, nil
}

func (m *memStore) UpsertObject(_ context.Context, boardID, objectID string, obj store.BoardObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	board, ok := m.boards[boardID]
	if !ok {
		return store.ErrNotFound
	}
	board.Objects[objectID] = obj
	return nil
}

func (m *memStore) RemoveObject(_ context.Context, boardID, objectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.keepOnDrop {
		delete(m.boards[boardID].Objects, objectID)
	}
	return nil
}

func (m *memStore) BatchUpsertObjects(_ context.Context, boardID string, objects map[string]store.BoardObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, obj := range objects {
		m.boards[boardID].Objects[id] = obj
	}
	return nil
}

func (m *memStore) PatchObjects(_ context.Context, boardID string, patches map[string]store.ObjectPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objectPatches = append(m.objectPatches, patches)
	board := m.boards[boardID]
	for id, p := range patches {
		obj, ok := board.Objects[id]
		if !ok {
			continue
		}
		if p.X != nil {
			obj.X = *p.X
		}
		if p.Y != nil {
			obj.Y = *p.Y
		}
		if p.Width != nil {
			obj.Width = *p.Width
		}
		if p.Height != nil {
			obj.Height = *p.Height
		}
		board.Objects[id] = obj
	}
	return nil
}

func (m *memStore) DeleteZone(_ context.Context, boardID, zoneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keepOnDrop {
		return nil
	}
	zone := m.boards[boardID].Objects[zoneID]
	for id, p := range m.pinned {
		if p.ZoneID != nil && *p.ZoneID == zoneID {
			p.X += zone.X
			p.Y += zone.Y
			p.ZoneID = nil
			m.pinned[id] = p
		}
	}
	for id, c := range m.comments {
		if c.Position.Relative != nil && c.Position.Relative.ParentID == zoneID {
			delete(m.comments, id)
		}
	}
	delete(m.boards[boardID].Objects, zoneID)
	return nil
}

func (m *memStore) ListPinned(_ context.Context, boardID string) ([]store.PinnedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.PinnedEntity, 0)
	for _, p := range m.pinned {
		if p.BoardID == boardID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreatePinned(_ context.Context, p store.PinnedEntity) (store.PinnedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.pinned {
		if existing.BoardID == p.BoardID && existing.WorktreeID == p.WorktreeID {
			p.ID = id
		}
	}
	p.UpdatedAt = m.nextTime()
	m.pinned[p.ID] = p
	return p, nil
}

func (m *memStore) PatchPinned(_ context.Context, id string, patch store.PinnedPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinnedPatches = append(m.pinnedPatches, pinnedPatchCall{ID: id, Patch: patch})
	p, ok := m.pinned[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.X != nil {
		p.X = *patch.X
	}
	if patch.Y != nil {
		p.Y = *patch.Y
	}
	if patch.Width != nil {
		p.Width = patch.Width
	}
	if patch.Height != nil {
		p.Height = patch.Height
	}
	if patch.SetZone {
		p.ZoneID = patch.ZoneID
	}
	m.pinned[id] = p
	return nil
}

func (m *memStore) UnpinEntity(_ context.Context, boardID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keepOnDrop {
		return nil
	}
	if _, ok := m.pinned[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.pinned, id)
	return nil
}

func (m *memStore) ListComments(_ context.Context, boardID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateComment(_ context.Context, c store.Comment) (store.Comment, error) {
	if err := c.Position.Validate(); err != nil {
		return store.Comment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = m.nextTime()
	m.comments[c.ID] = c
	return c, nil
}

func (m *memStore) PatchComment(_ context.Context, id string, pos store.CommentPosition, worktreeID *string) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commentCalls = append(m.commentCalls, commentPatchCall{ID: id, Position: pos, WorktreeID: worktreeID})
	c, ok := m.comments[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Position = pos
	if worktreeID != nil {
		c.WorktreeID = worktreeID
	}
	m.comments[id] = c
	return nil
}

func (m *memStore) DeleteComment(_ context.Context, boardID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, id)
	return nil
}

type memCursors struct {
	mu      sync.Mutex
	cursors map[string]session.Cursor
	lists   int
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: map[string]session.Cursor{}}
}

func (m *memCursors) SaveCursor(_ context.Context, boardID string, c session.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[boardID+"/"+c.SessionID] = c
	return nil
}

func (m *memCursors) ListCursors(_ context.Context, boardID string) ([]session.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	out := make([]session.Cursor, 0)
	for key, c := range m.cursors {
		if len(key) > len(boardID) && key[:len(boardID)+1] == boardID+"/" {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (m *memCursors) RemoveCursor(_ context.Context, boardID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, boardID+"/"+sessionID)
	return nil
}

func (m *memCursors) Ping(context.Context) error { return nil }

type dispatchCall struct {
	Op      string
	Session string
	Text    string
	Request trigger.SessionRequest
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (f *fakeDispatcher) record(call dispatchCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDispatcher) Calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchCall(nil), f.calls...)
}

func (f *fakeDispatcher) CreateSession(_ context.Context, req trigger.SessionRequest) (string, error) {
	f.record(dispatchCall{Op: "create", Request: req})
	if f.err != nil {
		return "", f.err
	}
	return "agent-1", nil
}

func (f *fakeDispatcher) SendPrompt(_ context.Context, sessionID, text string) error {
	f.record(dispatchCall{Op: "prompt", Session: sessionID, Text: text})
	return f.err
}

func (f *fakeDispatcher) ForkSession(_ context.Context, sessionID string) (string, error) {
	f.record(dispatchCall{Op: "fork", Session: sessionID})
	return sessionID + "-fork", f.err
}

func (f *fakeDispatcher) SpawnChild(_ context.Context, sessionID string) (string, error) {
	f.record(dispatchCall{Op: "spawn", Session: sessionID})
	return sessionID + "-child", f.err
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.ItemRecord
	deleted []string
	resp    search.Response
	queries []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.resp
}

func (f *fakeSearch) IndexItems(items ...search.ItemRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, items...)
}

func (f *fakeSearch) DeleteItem(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeExporter struct {
	result *export.Result
	err    error
	got    []export.Request
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

type testEnv struct {
	svc        *Service
	store      *memStore
	cursors    *memCursors
	dispatcher *fakeDispatcher
	search     *fakeSearch
	clock      *clock.Fake
	hook       *logtest.Hook
}

// newTestEnv wires a Service over in-memory fakes. Background work runs
// inline and ids are sequential, so every test is deterministic.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		store:      newMemStore(),
		cursors:    newMemCursors(),
		dispatcher: &fakeDispatcher{},
		search:     &fakeSearch{},
		clock:      clock.NewFake(time.Unix(1_700_000_000, 0)),
		hook:       hook,
	}
	cfg := config.Defaults()
	env.svc = NewService(cfg, Deps{
		Store:      env.store,
		Cursors:    env.cursors,
		Dispatcher: env.dispatcher,
		Search:     env.search,
	}, logger)
	env.svc.clock = env.clock
	env.svc.spawn = func(fn func()) { fn() }
	var mu sync.Mutex
	seq := 0
	env.svc.newID = func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("%s-%d", prefix, seq)
	}
	t.Cleanup(env.svc.Close)
	return env
}

func (env *testEnv) open(t *testing.T, boardID, user string) *canvasSession {
	t.Helper()
	view, err := env.svc.OpenSession(context.Background(), boardID, OpenSessionInput{UserID: user, Name: user})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	cs, err := env.svc.session(view.SessionID)
	if err != nil {
		t.Fatalf("lookup session: %v", err)
	}
	return cs
}

func ptr[T any](v T) *T { return &v }

var errBoom = errors.New("boom")
