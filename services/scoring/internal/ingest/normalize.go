package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrDropped marks input that is well formed but must not be scored, such
// as an in-progress gift streak.
var ErrDropped = errors.New("event dropped")

// Decode accepts either a normalized Event ({"kind": ...}) or a raw
// live-platform message ({"type": ..., "payload": ...}) and returns a
// validated Event.
func Decode(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	var sniff struct {
		Kind    Kind            `json:"kind"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &sniff); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var ev Event
	switch {
	case sniff.Kind != "":
		if err := json.Unmarshal(data, &ev); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case sniff.Type != "":
		var err error
		ev, err = normalizeRaw(sniff.Type, sniff.Payload)
		if err != nil {
			return Event{}, err
		}
	default:
		return Event{}, fmt.Errorf("%w: neither kind nor type set", ErrUnknownKind)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type rawImage struct {
	MURLs   []string `json:"mUrls"`
	URLList []string `json:"urlList"`
	URLs    []string `json:"urls"`
}

func (i *rawImage) first() string {
	if i == nil {
		return ""
	}
	for _, list := range [][]string{i.MURLs, i.URLList, i.URLs} {
		for _, u := range list {
			if u = strings.TrimSpace(u); u != "" {
				return u
			}
		}
	}
	return ""
}

type rawUser struct {
	ID          flexID    `json:"id"`
	UniqueID    string    `json:"uniqueId"`
	NickName    string    `json:"nickName"`
	Nickname    string    `json:"nickname"`
	AvatarThumb *rawImage `json:"avatarThumb"`
	FollowInfo  *struct {
		FollowStatus int `json:"follow_status"`
	} `json:"follow_info"`
}

func (u *rawUser) viewer() Viewer {
	if u == nil {
		return Viewer{}
	}
	id := string(u.ID)
	if id == "" {
		id = u.UniqueID
	}
	nick := u.NickName
	if nick == "" {
		nick = u.Nickname
	}
	return Viewer{ID: id, Nickname: nick, AvatarURL: u.AvatarThumb.first()}
}

type rawGift struct {
	ID           flexID    `json:"id"`
	Name         string    `json:"name"`
	DiamondCount int64     `json:"diamondCount"`
	Type         int       `json:"type"`
	Streakable   *bool     `json:"streakable"`
	Icon         *rawImage `json:"icon"`
	Image        *rawImage `json:"image"`
}

// streakable gifts are counted once, when the streak ends. Platform gift
// type 1 is the streakable kind.
func (g rawGift) streakable() bool {
	if g.Streakable != nil {
		return *g.Streakable
	}
	return g.Type == 1
}

type rawMessage struct {
	UserInfo    *rawUser `json:"userInfo"`
	User        *rawUser `json:"user"`
	FromUser    *rawUser `json:"fromUser"`
	Content     string   `json:"content"`
	Comment     string   `json:"comment"`
	Count       int64    `json:"count"`
	MGift       *rawGift `json:"mGift"`
	RepeatCount int64    `json:"repeatCount"`
	RepeatEnd   *int     `json:"repeatEnd"`
	Streaking   *bool    `json:"streaking"`
	Room        flexID   `json:"roomId"`
}

func (m rawMessage) sender() *rawUser {
	for _, u := range []*rawUser{m.UserInfo, m.User, m.FromUser} {
		if u != nil {
			return u
		}
	}
	return nil
}

// streakInProgress reports whether a streakable gift is still repeating.
func (m rawMessage) streakInProgress() bool {
	if m.Streaking != nil {
		return *m.Streaking
	}
	if m.RepeatEnd != nil {
		return *m.RepeatEnd == 0
	}
	return false
}

func normalizeRaw(typ string, payload json.RawMessage) (Event, error) {
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return Event{}, ErrMissingPayload
	}
	var m rawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev := Event{Kind: Kind(strings.ToLower(strings.TrimSpace(typ))), Viewer: m.sender().viewer(), Room: string(m.Room)}
	switch ev.Kind {
	case KindComment:
		text := m.Content
		if text == "" {
			text = m.Comment
		}
		ev.Comment = &CommentPayload{Text: text}
	case KindLike:
		follower := false
		if u := m.sender(); u != nil && u.FollowInfo != nil {
			follower = u.FollowInfo.FollowStatus == 1
		}
		ev.Like = &LikePayload{Count: m.Count, IsFollower: follower}
	case KindGift:
		if m.MGift == nil {
			return Event{}, ErrMissingPayload
		}
		qty := m.RepeatCount
		if m.MGift.streakable() {
			if m.streakInProgress() {
				return Event{}, fmt.Errorf("%w: gift streak in progress", ErrDropped)
			}
		} else if qty < 1 {
			qty = 1
		}
		icon := m.MGift.Icon.first()
		if icon == "" {
			icon = m.MGift.Image.first()
		}
		ev.Gift = &GiftPayload{
			GiftID:    string(m.MGift.ID),
			Name:      m.MGift.Name,
			Icon:      icon,
			UnitValue: m.MGift.DiamondCount,
			Quantity:  qty,
		}
	case KindConnect, KindDisconnect:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, typ)
	}
	return ev, nil
}
