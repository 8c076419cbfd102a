package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// zoneNoteItems expands boards.objects into one row per zone or note.
const zoneNoteItems = `
	SELECT o.key AS id, b.id AS board_id, o.value->>'type' AS type,
		coalesce(o.value->>'label', '') AS title,
		coalesce(o.value->>'content', '') AS body
	FROM boards b, jsonb_each(b.objects) AS o(key, value)
	WHERE o.value->>'type' IN ('zone', 'note')`

// Search executes a UNION ALL query across board objects and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	boardFilter := func(col string) string {
		if q.BoardID == "" {
			return ""
		}
		clause := fmt.Sprintf(" AND %s = $%d", col, argN)
		args = append(args, q.BoardID)
		argN++
		return clause
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultZone || q.FilterType == ResultNote {
		where := fmt.Sprintf("to_tsvector('english', i.title || ' ' || i.body) @@ %s", tsQuery)
		if q.FilterType != "" {
			where += fmt.Sprintf(" AND i.type = $%d", argN)
			args = append(args, string(q.FilterType))
			argN++
		}
		where += boardFilter("i.board_id")
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT i.type, i.id, i.board_id, i.title,
				ts_headline('english', i.title || ' ' || i.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(to_tsvector('english', i.title || ' ' || i.body), %s) AS rank
			FROM (%s) i
			WHERE %s`, tsQuery, tsQuery, zoneNoteItems, where))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		where := "c.fts @@ " + tsQuery + boardFilter("c.board_id")
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.board_id, c.author AS title,
				ts_headline('english', c.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(c.fts, %s) AS rank
			FROM board_comments c
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, board_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.BoardID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadBoardRecords returns the searchable items of one board, or of every
// board when boardID is empty.
func (p *PgFTS) LoadBoardRecords(ctx context.Context, boardID string) ([]ItemRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, board_id, type, title, body FROM (%s) i
		WHERE $1 = '' OR i.board_id = $1
		UNION ALL
		SELECT id, board_id, 'comment', author, body FROM board_comments
		WHERE $1 = '' OR board_id = $1`, zoneNoteItems)
	rows, err := p.db.QueryContext(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("load board records: %w", err)
	}
	defer rows.Close()

	records := make([]ItemRecord, 0)
	for rows.Next() {
		var r ItemRecord
		var typ string
		if err := rows.Scan(&r.ID, &r.BoardID, &typ, &r.Title, &r.Body); err != nil {
			return nil, fmt.Errorf("scan board record: %w", err)
		}
		r.Type = ResultType(typ)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board records: %w", err)
	}
	return records, nil
}
