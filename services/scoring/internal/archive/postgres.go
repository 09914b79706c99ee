package archive

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var Schema string

// Postgres is the production Store backed by pgxpool.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) UpsertUser(ctx context.Context, u User) error {
	q := `
INSERT INTO live_users (tiktok_id, nickname, avatar_url, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (tiktok_id)
DO UPDATE SET
  nickname   = EXCLUDED.nickname,
  avatar_url = COALESCE(NULLIF(EXCLUDED.avatar_url, ''), live_users.avatar_url),
  updated_at = now()`
	if _, err := p.db.Exec(ctx, q, u.ID, u.Nickname, u.AvatarURL); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (p *Postgres) UpsertGift(ctx context.Context, g Gift) error {
	q := `
INSERT INTO live_gifts (gift_id, name, image_url, diamond_count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (gift_id)
DO UPDATE SET
  name          = EXCLUDED.name,
  diamond_count = EXCLUDED.diamond_count,
  image_url     = COALESCE(NULLIF(EXCLUDED.image_url, ''), live_gifts.image_url)`
	if _, err := p.db.Exec(ctx, q, g.ID, g.Name, g.ImageURL, g.DiamondCount); err != nil {
		return fmt.Errorf("upsert gift %s: %w", g.ID, err)
	}
	return nil
}

const commentCols = `id::text, session_id, user_id, content, created_at, is_used`

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.SessionID, &c.ViewerID, &c.Content, &c.CreatedAt, &c.Used)
	return c, err
}

func (p *Postgres) SaveComment(ctx context.Context, c Comment) (Comment, error) {
	q := `INSERT INTO live_comments (session_id, user_id, content)
VALUES ($1, $2, $3)
RETURNING ` + commentCols
	out, err := scanComment(p.db.QueryRow(ctx, q, c.SessionID, c.ViewerID, c.Content))
	if err != nil {
		return Comment{}, fmt.Errorf("save comment: %w", err)
	}
	return out, nil
}

func (p *Postgres) SetCommentUsed(ctx context.Context, commentID string, used bool) (Comment, bool, error) {
	id, err := uuid.Parse(commentID)
	if err != nil {
		return Comment{}, false, ErrNotFound
	}

	q := `UPDATE live_comments SET is_used = $2
WHERE id = $1 AND is_used <> $2
RETURNING ` + commentCols
	c, err := scanComment(p.db.QueryRow(ctx, q, id, used))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, false, fmt.Errorf("set comment used: %w", err)
	}

	// Either missing or already in the requested state.
	c, err = scanComment(p.db.QueryRow(ctx, `SELECT `+commentCols+` FROM live_comments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, false, ErrNotFound
	}
	if err != nil {
		return Comment{}, false, fmt.Errorf("get comment: %w", err)
	}
	return c, false, nil
}

func (p *Postgres) ListComments(ctx context.Context, sessionID, viewerID string, onlyUnused bool, limit int) ([]Comment, error) {
	q := `SELECT ` + commentCols + ` FROM live_comments
WHERE session_id = $1 AND user_id = $2 AND ($3 = FALSE OR is_used = FALSE)
ORDER BY created_at DESC, id DESC
LIMIT $4`
	rows, err := p.db.Query(ctx, q, sessionID, viewerID, onlyUnused, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const sessionCols = `id, start_time, end_time, is_active, total_score, total_gifts, final_snapshot`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.Active, &s.TotalScore, &s.TotalGifts, &s.Snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) StartSession(ctx context.Context, id string) (Session, error) {
	q := `
INSERT INTO live_sessions (id, start_time, is_active)
VALUES ($1, now(), TRUE)
ON CONFLICT (id)
DO UPDATE SET is_active = TRUE, end_time = NULL
RETURNING ` + sessionCols
	s, err := scanSession(p.db.QueryRow(ctx, q, id))
	if err != nil {
		return Session{}, fmt.Errorf("start session %s: %w", id, err)
	}
	return s, nil
}

func (p *Postgres) EndSession(ctx context.Context, id string, totals SessionTotals, snapshot []byte) (Session, error) {
	q := `
UPDATE live_sessions
SET end_time = now(), is_active = FALSE, total_score = $2, total_gifts = $3, final_snapshot = $4
WHERE id = $1
RETURNING ` + sessionCols
	s, err := scanSession(p.db.QueryRow(ctx, q, id, totals.TotalScore, totals.TotalGifts, snapshot))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("end session %s: %w", id, err)
	}
	return s, nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(p.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM live_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

func (p *Postgres) AppendLog(ctx context.Context, e LogEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode log details: %w", err)
		}
		details = b
	}
	q := `INSERT INTO live_system_logs (ts, level, message, details) VALUES (COALESCE($1, now()), $2, $3, $4)`
	var ts *time.Time
	if !e.Timestamp.IsZero() {
		ts = &e.Timestamp
	}
	if _, err := p.db.Exec(ctx, q, ts, e.Level, e.Message, details); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (p *Postgres) ListLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	q := `SELECT id, ts, level, message, details FROM live_system_logs ORDER BY ts DESC, id DESC LIMIT $1`
	rows, err := p.db.Query(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	out := []LogEntry{}
	for rows.Next() {
		var (
			e       LogEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message, &details); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode log details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
