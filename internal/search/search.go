package search

import "context"

// ResultType identifies the kind of board item in a search result.
type ResultType string

const (
	ResultZone    ResultType = "zone"
	ResultNote    ResultType = "note"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	BoardID string     `json:"boardId"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	BoardID    string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push board items into a search index.
type Indexer interface {
	IndexItems(items []ItemRecord) error
	DeleteItem(id string) error
}

// ItemRecord is the data we index for a zone, note or comment.
type ItemRecord struct {
	ID      string     `json:"id"`
	BoardID string     `json:"boardId"`
	Type    ResultType `json:"type"`
	Title   string     `json:"title"`
	Body    string     `json:"body"`
}
