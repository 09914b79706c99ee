package store

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Comment is one entry of a viewer's comment log.
type Comment struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CommentLog is an append-only list per viewer.
type CommentLog struct {
	rdb redis.UniversalClient
	ks  Keyspace
}

func NewCommentLog(rdb redis.UniversalClient, ks Keyspace) *CommentLog {
	return &CommentLog{rdb: rdb, ks: ks}
}

func (l *CommentLog) Append(ctx context.Context, viewerID string, c Comment) error {
	b, err := encodeComment(c)
	if err != nil {
		return err
	}
	return l.rdb.RPush(ctx, l.ks.Comments(viewerID), b).Err()
}

func (l *CommentLog) QueueAppend(ctx context.Context, pipe redis.Pipeliner, viewerID string, c Comment) error {
	b, err := encodeComment(c)
	if err != nil {
		return err
	}
	pipe.RPush(ctx, l.ks.Comments(viewerID), b)
	return nil
}

// ReadAll returns the log oldest first.
func (l *CommentLog) ReadAll(ctx context.Context, viewerID string) ([]Comment, error) {
	return ParseComments(l.rdb.LRange(ctx, l.ks.Comments(viewerID), 0, -1))
}

func (l *CommentLog) QueueReadAll(ctx context.Context, pipe redis.Pipeliner, viewerID string) *redis.StringSliceCmd {
	return pipe.LRange(ctx, l.ks.Comments(viewerID), 0, -1)
}

// ParseComments decodes list entries. Entries that are not JSON objects
// are kept as plain text without a timestamp.
func ParseComments(cmd *redis.StringSliceCmd) ([]Comment, error) {
	raw, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	out := make([]Comment, 0, len(raw))
	for _, v := range raw {
		var c Comment
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			c = Comment{Text: v}
		}
		out = append(out, c)
	}
	return out, nil
}

func encodeComment(c Comment) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode comment: %w", err)
	}
	return b, nil
}
