package search

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Index is a search backend that can also be written to.
type Index interface {
	Searcher
	Indexer
}

// Loader reads the searchable items of a board from the source of truth.
type Loader interface {
	LoadBoardRecords(ctx context.Context, boardID string) ([]ItemRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Index
	fallback Searcher
	loader   Loader
	log      logrus.FieldLogger
	spawn    func(func())
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Index, fallback *PgFTS, log logrus.FieldLogger) *Service {
	s := &Service{
		primary: primary,
		log:     log,
		spawn:   func(fn func()) { go fn() },
	}
	if fallback != nil {
		s.fallback = fallback
		s.loader = fallback
	}
	return s
}

func (s *Service) primaryUp() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryUp() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("search: primary index failed, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("search: pgfts failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexItems pushes items to the primary index (fire-and-forget).
func (s *Service) IndexItems(items ...ItemRecord) {
	if !s.primaryUp() || len(items) == 0 {
		return
	}
	s.spawn(func() {
		if err := s.primary.IndexItems(items); err != nil {
			s.log.WithError(err).WithField("count", len(items)).Warn("search: index items")
		}
	})
}

// DeleteItem removes an item from the primary index (fire-and-forget).
func (s *Service) DeleteItem(id string) {
	if !s.primaryUp() {
		return
	}
	s.spawn(func() {
		if err := s.primary.DeleteItem(id); err != nil {
			s.log.WithError(err).WithField("item_id", id).Warn("search: delete item")
		}
	})
}

// ReindexBoard reloads a board's items from Postgres into the primary index.
// An empty boardID reindexes every board.
func (s *Service) ReindexBoard(ctx context.Context, boardID string) {
	if !s.primaryUp() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadBoardRecords(ctx, boardID)
	if err != nil {
		s.log.WithError(err).Warn("search: reindex load failed")
		return
	}
	if err := s.primary.IndexItems(records); err != nil {
		s.log.WithError(err).Warn("search: reindex failed")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
