package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore loads the board to export.
type DataStore interface {
	LoadBoard(ctx context.Context, boardID string) (Board, error)
}

// PDFRenderer turns rendered HTML into a PDF.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides board export functionality
type Service struct {
	store   DataStore
	pdf     PDFRenderer
	storage Storage
	linkTTL time.Duration
	now     func() time.Time
}

// NewService creates a new export service. storage may be nil, in which case
// upload requests fail with ErrStorageUnavailable.
func NewService(store DataStore, storage Storage) *Service {
	s := &Service{
		store:   store,
		pdf:     ChromePDF,
		linkTTL: 24 * time.Hour,
		now:     time.Now,
	}
	if storage != nil {
		s.storage = storage
	}
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if req.Upload && s.storage == nil {
		return nil, ErrStorageUnavailable
	}

	board, err := s.store.LoadBoard(ctx, req.BoardID)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}

	html, err := RenderBoardHTML(Layout(board))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result := &Result{Filename: sanitizeFilename(board.Name)}
	switch req.Format {
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		result.Data = data
		result.Filename += ".pdf"
		result.MimeType = "application/pdf"
	case FormatHTML:
		result.Data = []byte(html)
		result.Filename += ".html"
		result.MimeType = "text/html; charset=utf-8"
	}

	if req.Upload {
		if err := s.upload(ctx, board.ID, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Service) upload(ctx context.Context, boardID string, result *Result) error {
	now := s.now().UTC()
	key := fmt.Sprintf("boards/%s/%s-%s", boardID, now.Format("20060102T150405Z"), result.Filename)
	if err := s.storage.Put(ctx, key, result.Data, result.MimeType); err != nil {
		return fmt.Errorf("upload export: %w", err)
	}
	link, err := s.storage.Link(ctx, key, s.linkTTL)
	if err != nil {
		return fmt.Errorf("link export: %w", err)
	}
	result.URL = link
	result.ExpiresAt = now.Add(s.linkTTL)
	return nil
}
