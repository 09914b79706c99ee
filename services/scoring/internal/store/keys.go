// Package store wraps the Redis structures that back a scoring session.
//
// Every key is scoped by session id:
//
//	session:{id}:leaderboard            ZSET  viewer key -> score
//	session:{id}:user_data:{viewer}     HASH  running stats
//	session:{id}:user_gifts:{viewer}    HASH  gift id -> quantity
//	session:{id}:gift_meta              HASH  gift id -> JSON metadata
//	session:{id}:comments:{viewer}      LIST  JSON comments, oldest first
package store

import "strings"

// Keyspace names the keys of one session.
type Keyspace struct {
	session string
	prefix  string
}

func NewKeyspace(sessionID string) Keyspace {
	return Keyspace{session: sessionID, prefix: "session:" + sessionID + ":"}
}

func (k Keyspace) SessionID() string { return k.session }

func (k Keyspace) Leaderboard() string { return k.prefix + "leaderboard" }

func (k Keyspace) UserData(viewerID string) string { return k.prefix + "user_data:" + viewerID }

func (k Keyspace) UserGifts(viewerID string) string { return k.prefix + "user_gifts:" + viewerID }

func (k Keyspace) GiftMeta() string { return k.prefix + "gift_meta" }

func (k Keyspace) Comments(viewerID string) string { return k.prefix + "comments:" + viewerID }

// Pattern matches every key of the session for SCAN. Glob metacharacters
// in the session id are escaped.
func (k Keyspace) Pattern() string {
	return "session:" + escapeGlob(k.session) + ":*"
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ViewerKey is the leaderboard member for a viewer: "{id}|{nickname}".
func ViewerKey(viewerID, nickname string) string {
	return viewerID + "|" + nickname
}

// SplitViewerKey splits on the first '|'. A key without a separator is
// treated as a bare id.
func SplitViewerKey(key string) (viewerID, nickname string) {
	id, nick, _ := strings.Cut(key, "|")
	return id, nick
}
