package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateBoard(ctx context.Context, id, name string) (Board, error) {
	board := Board{ID: id, Name: name, Objects: map[string]BoardObject{}}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO boards (id, name)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`, id, name).Scan(&board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	return board, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, id string) (Board, error) {
	var board Board
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, objects, created_at, updated_at FROM boards WHERE id=$1
	`, id).Scan(&board.ID, &board.Name, &raw, &board.CreatedAt, &board.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}
	if err := json.Unmarshal(raw, &board.Objects); err != nil {
		return Board{}, fmt.Errorf("decode board objects: %w", err)
	}
	if board.Objects == nil {
		board.Objects = map[string]BoardObject{}
	}
	return board, nil
}

func (s *PostgresStore) ListBoardIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM boards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan board id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) UpsertObject(ctx context.Context, boardID, objectID string, obj BoardObject) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode board object: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards
		SET objects = objects || jsonb_build_object($2::text, $3::jsonb), updated_at = NOW()
		WHERE id = $1
	`, boardID, objectID, string(data))
	if err != nil {
		return fmt.Errorf("upsert board object: %w", err)
	}
	return expectRow(res, "board "+boardID)
}

func (s *PostgresStore) RemoveObject(ctx context.Context, boardID, objectID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET objects = objects - $2::text, updated_at = NOW() WHERE id = $1
	`, boardID, objectID)
	if err != nil {
		return fmt.Errorf("remove board object: %w", err)
	}
	return expectRow(res, "board "+boardID)
}

func (s *PostgresStore) BatchUpsertObjects(ctx context.Context, boardID string, objects map[string]BoardObject) error {
	if len(objects) == 0 {
		return nil
	}
	data, err := json.Marshal(objects)
	if err != nil {
		return fmt.Errorf("encode board objects: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET objects = objects || $2::jsonb, updated_at = NOW() WHERE id = $1
	`, boardID, string(data))
	if err != nil {
		return fmt.Errorf("batch upsert board objects: %w", err)
	}
	return expectRow(res, "board "+boardID)
}

// PatchObjects merges each patch into the existing object with the same id.
// Patches for objects that no longer exist are dropped, so a late position
// write cannot resurrect a deleted zone.
func (s *PostgresStore) PatchObjects(ctx context.Context, boardID string, patches map[string]ObjectPatch) error {
	if len(patches) == 0 {
		return nil
	}
	data, err := json.Marshal(patches)
	if err != nil {
		return fmt.Errorf("encode object patches: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards b
		SET objects = b.objects || COALESCE((
			SELECT jsonb_object_agg(p.key, (b.objects -> p.key) || p.value)
			FROM jsonb_each($2::jsonb) AS p(key, value)
			WHERE b.objects ? p.key
		), '{}'::jsonb),
		updated_at = NOW()
		WHERE b.id = $1
	`, boardID, string(data))
	if err != nil {
		return fmt.Errorf("patch board objects: %w", err)
	}
	return expectRow(res, "board "+boardID)
}

// DeleteZone removes a zone. Pinned entities inside it move to canvas
// coordinates and comments anchored to it are deleted.
func (s *PostgresStore) DeleteZone(ctx context.Context, boardID, zoneID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete zone tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var zx, zy sql.NullFloat64
	err = tx.QueryRowContext(ctx, `
		SELECT (objects -> $2::text ->> 'x')::float8, (objects -> $2::text ->> 'y')::float8
		FROM boards WHERE id = $1 FOR UPDATE
	`, boardID, zoneID).Scan(&zx, &zy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read zone: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE board_pinned
		SET zone_id = NULL, x = x + $3, y = y + $4, updated_at = NOW()
		WHERE board_id = $1 AND zone_id = $2
	`, boardID, zoneID, zx.Float64, zy.Float64); err != nil {
		return fmt.Errorf("unpin zone entities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM board_comments WHERE board_id = $1 AND parent_id = $2 AND parent_type = 'zone'
	`, boardID, zoneID); err != nil {
		return fmt.Errorf("delete zone comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE boards SET objects = objects - $2::text, updated_at = NOW() WHERE id = $1
	`, boardID, zoneID); err != nil {
		return fmt.Errorf("remove zone: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete zone: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPinned(ctx context.Context, boardID string) ([]PinnedEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, worktree_id, title, x, y, width, height, zone_id, updated_at
		FROM board_pinned
		WHERE board_id = $1
		ORDER BY created_at, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list pinned: %w", err)
	}
	defer rows.Close()

	items := make([]PinnedEntity, 0)
	for rows.Next() {
		var p PinnedEntity
		var width, height sql.NullFloat64
		var zoneID sql.NullString
		if err := rows.Scan(&p.ID, &p.BoardID, &p.WorktreeID, &p.Title, &p.X, &p.Y, &width, &height, &zoneID, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pinned: %w", err)
		}
		p.Width = nullFloat(width)
		p.Height = nullFloat(height)
		p.ZoneID = nullString(zoneID)
		items = append(items, p)
	}
	return items, rows.Err()
}

// CreatePinned materializes a position record the first time an entity is
// placed on a board. Placing the same entity again moves the existing record.
func (s *PostgresStore) CreatePinned(ctx context.Context, p PinnedEntity) (PinnedEntity, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO board_pinned (id, board_id, worktree_id, title, x, y, width, height, zone_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (board_id, worktree_id) DO UPDATE
		SET x = EXCLUDED.x, y = EXCLUDED.y, zone_id = EXCLUDED.zone_id, title = EXCLUDED.title, updated_at = NOW()
		RETURNING id, updated_at
	`, p.ID, p.BoardID, p.WorktreeID, p.Title, p.X, p.Y, p.Width, p.Height, p.ZoneID).Scan(&p.ID, &p.UpdatedAt)
	if err != nil {
		return PinnedEntity{}, fmt.Errorf("create pinned: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) PatchPinned(ctx context.Context, id string, patch PinnedPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE board_pinned
		SET x = COALESCE($2, x), y = COALESCE($3, y),
			width = COALESCE($4, width),
			height = COALESCE($5, height),
			zone_id = CASE WHEN $6::boolean THEN $7::text ELSE zone_id END,
			updated_at = NOW()
		WHERE id = $1
	`, id, patch.X, patch.Y, patch.Width, patch.Height, patch.SetZone, patch.ZoneID)
	if err != nil {
		return fmt.Errorf("patch pinned: %w", err)
	}
	return expectRow(res, "pinned entity "+id)
}

// UnpinEntity removes the entity's position record from the board along with
// comments anchored to its card. The entity itself is untouched.
func (s *PostgresStore) UnpinEntity(ctx context.Context, boardID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unpin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM board_pinned WHERE board_id = $1 AND id = $2`, boardID, id)
	if err != nil {
		return fmt.Errorf("delete pinned: %w", err)
	}
	if err := expectRow(res, "pinned entity "+id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM board_comments WHERE board_id = $1 AND parent_id = $2 AND parent_type = 'pinned'
	`, boardID, id); err != nil {
		return fmt.Errorf("delete card comments: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unpin: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, boardID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, body, author, worktree_id, abs_x, abs_y, parent_id, parent_type, offset_x, offset_y, created_at, updated_at
		FROM board_comments
		WHERE board_id = $1
		ORDER BY created_at, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		var worktreeID, parentID, parentType sql.NullString
		var absX, absY, offX, offY sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Body, &c.Author, &worktreeID, &absX, &absY, &parentID, &parentType, &offX, &offY, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.WorktreeID = nullString(worktreeID)
		if parentID.Valid {
			c.Position.Relative = &RelativePosition{
				ParentID:   parentID.String,
				ParentType: parentType.String,
				OffsetX:    offX.Float64,
				OffsetY:    offY.Float64,
			}
		} else {
			c.Position.Absolute = &Point{X: absX.Float64, Y: absY.Float64}
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateComment(ctx context.Context, c Comment) (Comment, error) {
	if err := c.Position.Validate(); err != nil {
		return Comment{}, err
	}
	cols := positionColumns(c.Position)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO board_comments (id, board_id, body, author, worktree_id, abs_x, abs_y, parent_id, parent_type, offset_x, offset_y)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, c.ID, c.BoardID, c.Body, c.Author, c.WorktreeID,
		cols.absX, cols.absY, cols.parentID, cols.parentType, cols.offX, cols.offY,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// PatchComment replaces the comment's position. worktreeID, when non-nil,
// re-links the comment to a worktree.
func (s *PostgresStore) PatchComment(ctx context.Context, id string, pos CommentPosition, worktreeID *string) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	cols := positionColumns(pos)
	res, err := s.db.ExecContext(ctx, `
		UPDATE board_comments
		SET abs_x = $2, abs_y = $3, parent_id = $4, parent_type = $5, offset_x = $6, offset_y = $7,
			worktree_id = COALESCE($8, worktree_id),
			updated_at = NOW()
		WHERE id = $1
	`, id, cols.absX, cols.absY, cols.parentID, cols.parentType, cols.offX, cols.offY, worktreeID)
	if err != nil {
		return fmt.Errorf("patch comment: %w", err)
	}
	return expectRow(res, "comment "+id)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, boardID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM board_comments WHERE board_id = $1 AND id = $2`, boardID, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return expectRow(res, "comment "+id)
}

type commentColumns struct {
	absX, absY, offX, offY *float64
	parentID, parentType   *string
}

func positionColumns(pos CommentPosition) commentColumns {
	var cols commentColumns
	if pos.Absolute != nil {
		x, y := pos.Absolute.X, pos.Absolute.Y
		cols.absX, cols.absY = &x, &y
		return cols
	}
	rel := *pos.Relative
	cols.parentID, cols.parentType = &rel.ParentID, &rel.ParentType
	cols.offX, cols.offY = &rel.OffsetX, &rel.OffsetY
	return cols
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
