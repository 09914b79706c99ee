package engine

import (
	"time"

	"github.com/example/liveshow/services/scoring/internal/store"
)

// Like is a normalized like batch.
type Like struct {
	ViewerID   string
	Nickname   string
	AvatarURL  string
	Count      int64
	IsFollower bool
}

// Gift is a normalized, already de-streaked gift.
type Gift struct {
	ViewerID  string
	Nickname  string
	AvatarURL string
	GiftID    string
	GiftName  string
	Icon      string
	UnitValue int64
	Quantity  int64
}

// Comment is a normalized chat message.
type Comment struct {
	ViewerID  string
	Nickname  string
	AvatarURL string
	Text      string
}

// Outcome reports what a process call did. Skipped calls changed nothing.
type Outcome struct {
	Points  float64
	Skipped bool
	Reason  string
}

func skipped(reason string) Outcome { return Outcome{Skipped: true, Reason: reason} }

// GiftLine is one gift of a viewer's breakdown joined with the catalog.
type GiftLine struct {
	GiftID    string  `json:"gift_id"`
	Name      string  `json:"name"`
	Count     int64   `json:"count"`
	UnitValue int64   `json:"unit_value"`
	Icon      *string `json:"icon"`
}

// LeaderboardEntry is the presentation record of one ranked viewer.
type LeaderboardEntry struct {
	Rank           int        `json:"rank"`
	UserKey        string     `json:"user_key"`
	UserID         string     `json:"user_id"`
	Nickname       string     `json:"nickname"`
	Score          int64      `json:"score"`
	AvatarURL      string     `json:"avatar_url"`
	Comments       int64      `json:"comments"`
	Likes          int64      `json:"likes"`
	Gifts          int64      `json:"gifts"`
	GiftsBreakdown []GiftLine `json:"gifts_breakdown"`
}

// UserDetail is the provenance of a viewer's score.
type UserDetail struct {
	ViewerID string          `json:"user_id"`
	Found    bool            `json:"found"`
	Stats    store.UserStats `json:"stats"`
	Comments []store.Comment `json:"comments"`
	Gifts    []GiftLine      `json:"gifts"`
}

// ResetResult is what ResetUser moved into the used mirrors.
type ResetResult struct {
	ViewerID          string    `json:"user_id"`
	Found             bool      `json:"found"`
	ArchivedLikes     int64     `json:"archived_likes"`
	ArchivedGiftsSent int64     `json:"archived_gifts_sent"`
	ArchivedGiftCoins int64     `json:"archived_gift_coins"`
	LeaderboardZeroed bool      `json:"leaderboard_zeroed"`
	Nickname          string    `json:"nickname"`
	At                time.Time `json:"at"`
}
