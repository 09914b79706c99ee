// Package archive is the relational record of a show: viewers, gift types,
// individual comments with their "used on air" flag, and sessions with a
// final leaderboard snapshot.
package archive

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("archive: not found")

type User struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Gift struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ImageURL     string `json:"image_url,omitempty"`
	DiamondCount int64  `json:"diamond_count"`
}

type Comment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ViewerID  string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Used      bool      `json:"is_used"`
}

type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"start_time"`
	EndedAt    *time.Time `json:"end_time,omitempty"`
	Active     bool       `json:"is_active"`
	TotalScore int64      `json:"total_score"`
	TotalGifts int64      `json:"total_gifts"`
	Snapshot   []byte     `json:"-"`
}

// Activity log levels.
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// LogEntry is one row of the operator-facing activity log.
type LogEntry struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

type SessionTotals struct {
	TotalScore int64
	TotalGifts int64
}

// Store is implemented by Postgres, Memory and Breaker.
type Store interface {
	UpsertUser(ctx context.Context, u User) error
	// UpsertGift keeps an existing image when the update carries none.
	UpsertGift(ctx context.Context, g Gift) error
	SaveComment(ctx context.Context, c Comment) (Comment, error)
	// SetCommentUsed flips the flag and reports whether it changed.
	SetCommentUsed(ctx context.Context, commentID string, used bool) (Comment, bool, error)
	// ListComments returns newest first. limit <= 0 means 100.
	ListComments(ctx context.Context, sessionID, viewerID string, onlyUnused bool, limit int) ([]Comment, error)
	StartSession(ctx context.Context, id string) (Session, error)
	EndSession(ctx context.Context, id string, totals SessionTotals, snapshot []byte) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	AppendLog(ctx context.Context, e LogEntry) error
	// ListLogs returns newest first. limit <= 0 means 100.
	ListLogs(ctx context.Context, limit int) ([]LogEntry, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
