package archive

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a development-only in-memory Store.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]User
	gifts    map[string]Gift
	comments map[string]Comment
	sessions map[string]Session
	logs     []LogEntry
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]User),
		gifts:    make(map[string]Gift),
		comments: make(map[string]Comment),
		sessions: make(map[string]Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) UpsertUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.users[u.ID]; ok && u.AvatarURL == "" {
		u.AvatarURL = prev.AvatarURL
	}
	u.UpdatedAt = m.now()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) UpsertGift(_ context.Context, g Gift) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.gifts[g.ID]; ok && g.ImageURL == "" {
		g.ImageURL = prev.ImageURL
	}
	m.gifts[g.ID] = g
	return nil
}

func (m *Memory) SaveComment(_ context.Context, c Comment) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = uuid.NewString()
	c.CreatedAt = m.now()
	c.Used = false
	m.comments[c.ID] = c
	return c, nil
}

func (m *Memory) SetCommentUsed(_ context.Context, commentID string, used bool) (Comment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.comments[commentID]
	if !ok {
		return Comment{}, false, ErrNotFound
	}
	if c.Used == used {
		return c, false, nil
	}
	c.Used = used
	m.comments[commentID] = c
	return c, true, nil
}

func (m *Memory) ListComments(_ context.Context, sessionID, viewerID string, onlyUnused bool, limit int) ([]Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Comment{}
	for _, c := range m.comments {
		if c.SessionID != sessionID || c.ViewerID != viewerID {
			continue
		}
		if onlyUnused && c.Used {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) StartSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = Session{ID: id, StartedAt: m.now()}
	}
	s.Active = true
	s.EndedAt = nil
	m.sessions[id] = s
	return s, nil
}

func (m *Memory) EndSession(_ context.Context, id string, totals SessionTotals, snapshot []byte) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	ended := m.now()
	s.EndedAt = &ended
	s.Active = false
	s.TotalScore = totals.TotalScore
	s.TotalGifts = totals.TotalGifts
	s.Snapshot = append([]byte(nil), snapshot...)
	m.sessions[id] = s
	return s, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) AppendLog(_ context.Context, e LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = int64(len(m.logs) + 1)
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	m.logs = append(m.logs, e)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, limit int) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = clampLimit(limit)
	out := make([]LogEntry, 0, min(limit, len(m.logs)))
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}
