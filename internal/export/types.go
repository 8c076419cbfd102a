// Package export renders a board snapshot to HTML or PDF.
package export

import (
	"errors"
	"time"

	"boardrelay/api/internal/canvas"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	BoardID string
	Format  Format
	// Upload stores the artifact in object storage and returns a link.
	Upload bool
}

// Board is the durable state of one board, flattened to canvas objects.
type Board struct {
	ID      string
	Name    string
	Objects []canvas.Object
}

// Result contains the export output
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	URL       string
	ExpiresAt time.Time
}

var (
	// ErrUnsupportedFormat indicates the requested format is not available.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrStorageUnavailable indicates no object storage is configured for uploads.
	ErrStorageUnavailable = errors.New("export storage unavailable")
)
