package app

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/clock"
	"boardrelay/api/internal/config"
	"boardrelay/api/internal/export"
	"boardrelay/api/internal/search"
	"boardrelay/api/internal/session"
	"boardrelay/api/internal/store"
	"boardrelay/api/internal/trigger"
	"boardrelay/api/internal/util"
)

type dataStore interface {
	boardReader
	Ping(context.Context) error
	CreateBoard(ctx context.Context, id, name string) (store.Board, error)
	UpsertObject(ctx context.Context, boardID, objectID string, obj store.BoardObject) error
	RemoveObject(ctx context.Context, boardID, objectID string) error
	BatchUpsertObjects(ctx context.Context, boardID string, objects map[string]store.BoardObject) error
	PatchObjects(ctx context.Context, boardID string, patches map[string]store.ObjectPatch) error
	DeleteZone(ctx context.Context, boardID, zoneID string) error
	CreatePinned(ctx context.Context, p store.PinnedEntity) (store.PinnedEntity, error)
	PatchPinned(ctx context.Context, id string, patch store.PinnedPatch) error
	UnpinEntity(ctx context.Context, boardID, id string) error
	CreateComment(ctx context.Context, c store.Comment) (store.Comment, error)
	PatchComment(ctx context.Context, id string, pos store.CommentPosition, worktreeID *string) error
	DeleteComment(ctx context.Context, boardID, id string) error
}

type cursorStore interface {
	SaveCursor(ctx context.Context, boardID string, cursor session.Cursor) error
	ListCursors(ctx context.Context, boardID string) ([]session.Cursor, error)
	RemoveCursor(ctx context.Context, boardID, sessionID string) error
	Ping(ctx context.Context) error
}

type changeBus interface {
	Publish(ctx context.Context, change session.Change) error
	Subscribe(ctx context.Context, handle func(session.Change)) (<-chan struct{}, <-chan error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexItems(items ...search.ItemRecord)
	DeleteItem(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps are the collaborators a Service talks to. Cursors, Bus, Search and
// Export are optional; without a Bus, changes are only seen by sessions on
// this relay.
type Deps struct {
	Store      dataStore
	Cursors    cursorStore
	Bus        changeBus
	Dispatcher trigger.Dispatcher
	Search     searchIndex
	Export     exporter
}

type Service struct {
	cfg        config.Config
	store      dataStore
	cursors    cursorStore
	bus        changeBus
	dispatcher trigger.Dispatcher
	search     searchIndex
	export     exporter
	log        logrus.FieldLogger
	clock      clock.Clock
	spawn      func(func())
	newID      func(prefix string) string

	mu       sync.Mutex
	sessions map[string]*canvasSession
}

func NewService(cfg config.Config, deps Deps, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		cursors:    deps.Cursors,
		bus:        deps.Bus,
		dispatcher: deps.Dispatcher,
		search:     deps.Search,
		export:     deps.Export,
		log:        log,
		clock:      clock.Real(),
		spawn:      func(fn func()) { go fn() },
		newID:      util.NewID,
		sessions:   make(map[string]*canvasSession),
	}
}

// Start subscribes to board changes from other relays and returns once the
// subscription is live.
func (s *Service) Start(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	ready, done := s.bus.Subscribe(ctx, s.handleChange)
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("subscribe board changes: %w", err)
		}
		return nil
	default:
	}
	go func() {
		if err := <-done; err != nil {
			s.log.WithError(err).Error("app: board change subscription ended")
		}
	}()
	return nil
}

// Close flushes and closes every open session.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := make([]*canvasSession, 0, len(s.sessions))
	for id, cs := range s.sessions {
		sessions = append(sessions, cs)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, cs := range sessions {
		cs.close(context.Background())
	}
}

// Ping reports the health of each backing service, keyed by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.cursors != nil {
		checks["redis"] = s.cursors.Ping(ctx)
	}
	return checks
}

func (s *Service) session(id string) (*canvasSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	return cs, nil
}

func (s *Service) boardSessions(boardID string) []*canvasSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*canvasSession, 0)
	for _, cs := range s.sessions {
		if cs.boardID == boardID {
			out = append(out, cs)
		}
	}
	return out
}

// announce tells every relay, this one included, that a board changed.
func (s *Service) announce(change session.Change) {
	if s.bus == nil {
		s.handleChange(change)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, change); err != nil {
		s.log.WithError(err).WithField("board_id", change.BoardID).Warn("app: publish change failed, refreshing local sessions only")
		s.handleChange(change)
	}
}

func (s *Service) handleChange(change session.Change) {
	kinds := make([]canvas.Kind, 0, len(change.Categories))
	for _, c := range change.Categories {
		kind := canvas.Kind(c)
		if !kind.Valid() {
			s.log.WithField("category", c).Warn("app: ignoring unknown change category")
			continue
		}
		kinds = append(kinds, kind)
	}
	if len(change.Categories) > 0 && len(kinds) == 0 {
		return
	}
	s.log.WithFields(logrus.Fields{
		"board_id":   change.BoardID,
		"categories": change.Categories,
		"origin":     change.Origin,
	}).Debug("app: board changed")
	// A viewer never sees their own cursor.
	cursorOnly := len(kinds) == 1 && kinds[0] == canvas.KindCursor
	for _, cs := range s.boardSessions(change.BoardID) {
		if cursorOnly && cs.id == change.Origin {
			continue
		}
		cs := cs
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := cs.refresh(ctx, kinds); err != nil {
				cs.log.WithError(err).Warn("app: refresh failed")
			}
		})
	}
}

func categories(kinds ...canvas.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}

// OpenSessionInput identifies the viewer opening a canvas.
type OpenSessionInput struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (s *Service) OpenSession(ctx context.Context, boardID string, in OpenSessionInput) (SessionView, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return SessionView{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		in.UserID = s.newID("viewer")
	}
	cs := newCanvasSession(s, s.newID("sess"), board, in)
	if err := cs.refresh(ctx, nil); err != nil {
		cs.close(ctx)
		return SessionView{}, err
	}

	s.mu.Lock()
	s.sessions[cs.id] = cs
	s.mu.Unlock()
	cs.log.Info("app: canvas session opened")
	return cs.view(), nil
}

// CloseSession flushes pending writes and drops the session.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	cs, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return errSessionNotFound
	}
	cs.close(ctx)
	cs.log.Info("app: canvas session closed")
	if s.cursors != nil {
		s.announce(session.Change{BoardID: cs.boardID, Categories: categories(canvas.KindCursor), Origin: cs.id})
	}
	return nil
}

// SeedObject is a zone or note created together with its board.
type SeedObject struct {
	Type    string  `json:"type"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Label   string  `json:"label"`
	Content string  `json:"content"`
}

type CreateBoardInput struct {
	Name    string       `json:"name"`
	Objects []SeedObject `json:"objects"`
}

type BoardSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Objects   int       `json:"objects"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Service) CreateBoard(ctx context.Context, in CreateBoardInput) (BoardSummary, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return BoardSummary{}, validationError("name is required")
	}
	now := s.clock.Now().UTC()
	seeds := make(map[string]store.BoardObject, len(in.Objects))
	records := make([]search.ItemRecord, 0, len(in.Objects))
	for i, seed := range in.Objects {
		if seed.Type != store.ObjectTypeZone && seed.Type != store.ObjectTypeNote {
			return BoardSummary{}, validationError(fmt.Sprintf("objects[%d]: type must be zone or note", i))
		}
		if err := validateBox(seed.X, seed.Y, seed.Width, seed.Height); err != nil {
			return BoardSummary{}, validationError(fmt.Sprintf("objects[%d]: %s", i, err.Message))
		}
		id := s.newID(seed.Type)
		seeds[id] = store.BoardObject{
			Type: seed.Type, X: seed.X, Y: seed.Y, Width: seed.Width, Height: seed.Height,
			Label: seed.Label, Content: seed.Content,
			// Keep the request order as the stacking order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
	}

	board, err := s.store.CreateBoard(ctx, s.newID("board"), name)
	if err != nil {
		return BoardSummary{}, err
	}
	if err := s.store.BatchUpsertObjects(ctx, board.ID, seeds); err != nil {
		return BoardSummary{}, err
	}
	for id, obj := range seeds {
		records = append(records, itemRecord(board.ID, id, obj))
	}
	s.index(records...)
	s.log.WithFields(logrus.Fields{"board_id": board.ID, "objects": len(seeds)}).Info("app: board created")
	return BoardSummary{ID: board.ID, Name: board.Name, Objects: len(seeds), CreatedAt: board.CreatedAt}, nil
}

func itemRecord(boardID, id string, obj store.BoardObject) search.ItemRecord {
	if obj.Type == store.ObjectTypeZone {
		return search.ItemRecord{ID: id, BoardID: boardID, Type: search.ResultZone, Title: obj.Label}
	}
	return search.ItemRecord{ID: id, BoardID: boardID, Type: search.ResultNote, Body: obj.Content}
}

func (s *Service) index(records ...search.ItemRecord) {
	if s.search != nil && len(records) > 0 {
		s.search.IndexItems(records...)
	}
}

func (s *Service) unindex(id string) {
	if s.search != nil {
		s.search.DeleteItem(id)
	}
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	switch q.FilterType {
	case "", search.ResultZone, search.ResultNote, search.ResultComment:
	default:
		return search.Response{}, validationError("type must be zone, note or comment")
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.export.Export(ctx, req)
}

func validateBox(x, y, width, height float64) *DomainError {
	for _, v := range []float64{x, y, width, height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return validationError("position and size must be finite")
		}
	}
	if width <= 0 || height <= 0 {
		return validationError("width and height must be positive")
	}
	return nil
}
