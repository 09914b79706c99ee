// Package ingest turns upstream live-stream events into engine calls.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind tags the Event variant.
type Kind string

const (
	KindLike       Kind = "like"
	KindGift       Kind = "gift"
	KindComment    Kind = "comment"
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
)

var (
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrMissingViewer  = errors.New("missing viewer id")
	ErrMissingPayload = errors.New("missing payload")
	ErrInvalidPayload = errors.New("invalid payload")
)

type Viewer struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type LikePayload struct {
	Count      int64 `json:"count"`
	IsFollower bool  `json:"is_follower"`
}

type GiftPayload struct {
	GiftID    string `json:"gift_id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	UnitValue int64  `json:"unit_value"`
	Quantity  int64  `json:"quantity"`
}

type CommentPayload struct {
	Text string `json:"text"`
}

// Event is the normalized ingestion schema. Exactly one payload matches Kind;
// connect and disconnect carry none.
type Event struct {
	Kind       Kind            `json:"kind"`
	Viewer     Viewer          `json:"viewer"`
	Like       *LikePayload    `json:"like,omitempty"`
	Gift       *GiftPayload    `json:"gift,omitempty"`
	Comment    *CommentPayload `json:"comment,omitempty"`
	Room       string          `json:"room,omitempty"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
}

// Validate checks the event once at the boundary.
func (e Event) Validate() error {
	switch e.Kind {
	case KindConnect, KindDisconnect:
		return nil
	case KindLike, KindGift, KindComment:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	if strings.TrimSpace(e.Viewer.ID) == "" {
		return ErrMissingViewer
	}

	switch e.Kind {
	case KindLike:
		if e.Like == nil {
			return ErrMissingPayload
		}
		if e.Viewer.Nickname == "" {
			return fmt.Errorf("%w: like without nickname", ErrInvalidPayload)
		}
		if e.Like.Count <= 0 {
			return fmt.Errorf("%w: like count %d", ErrInvalidPayload, e.Like.Count)
		}
	case KindGift:
		if e.Gift == nil {
			return ErrMissingPayload
		}
		if e.Viewer.Nickname == "" {
			return fmt.Errorf("%w: gift without nickname", ErrInvalidPayload)
		}
		if e.Gift.GiftID == "" || e.Gift.UnitValue <= 0 || e.Gift.Quantity <= 0 {
			return fmt.Errorf("%w: gift %q value=%d qty=%d", ErrInvalidPayload, e.Gift.GiftID, e.Gift.UnitValue, e.Gift.Quantity)
		}
	case KindComment:
		if e.Comment == nil {
			return ErrMissingPayload
		}
		if strings.TrimSpace(e.Comment.Text) == "" {
			return fmt.Errorf("%w: empty comment", ErrInvalidPayload)
		}
	}
	return nil
}
