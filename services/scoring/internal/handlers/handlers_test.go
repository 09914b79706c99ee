package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/liveshow/internal/platform/auth"
	"github.com/example/liveshow/services/scoring/internal/archive"
	"github.com/example/liveshow/services/scoring/internal/engine"
	"github.com/example/liveshow/services/scoring/internal/ingest"
	"github.com/example/liveshow/services/scoring/internal/show"
)

// setupReq builds a request with chi URL params.
func setupReq(method, url string, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type fixture struct {
	ctl     *show.Controller
	arch    *archive.Memory
	board   *Board
	control *Control
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	arch := archive.NewMemory()
	block := func(ctx context.Context, _ string, _ ingest.Handler) error {
		<-ctx.Done()
		return nil
	}
	ctl := show.New(show.Config{
		Redis:   rdb,
		Archive: arch,
		Sources: map[show.Mode]show.Source{show.ModeMock: block},
		CheckTarget: func(mode show.Mode, target string) (string, error) {
			if mode == show.ModeMock {
				return ingest.ReplayPath(target)
			}
			return target, nil
		},
	}, "show-1")
	t.Cleanup(func() { _ = ctl.Stop(context.Background()) })

	board := NewBoard(ctl, NewCache(1, time.Minute), nil, 5)
	return fixture{
		ctl:   ctl,
		arch:  arch,
		board: board,
		control: &Control{
			Show:           ctl,
			Archive:        arch,
			Board:          board,
			DefaultTargets: map[show.Mode]string{show.ModeMock: "mock_data.jsonl"},
		},
	}
}

func (f fixture) gift(t *testing.T, viewer, nick string, unit, qty int64) {
	t.Helper()
	_, err := f.ctl.ProcessGift(context.Background(), engine.Gift{
		ViewerID: viewer, Nickname: nick, GiftID: "g1", GiftName: "Rose", UnitValue: unit, Quantity: qty,
	})
	if err != nil {
		t.Fatalf("gift: %v", err)
	}
}

func TestGetLeaderboard(t *testing.T) {
	f := newFixture(t)
	f.gift(t, "1", "alice", 10, 5)
	f.gift(t, "2", "bob", 1, 1)

	rr := httptest.NewRecorder()
	f.board.GetLeaderboard().ServeHTTP(rr, setupReq(http.MethodGet, "/v1/leaderboard?limit=1", "", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var entries []engine.LeaderboardEntry
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "1" || entries[0].Score != 350 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestGetLeaderboard_CachedUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	f.gift(t, "1", "alice", 10, 1)

	get := func() []engine.LeaderboardEntry {
		rr := httptest.NewRecorder()
		f.board.GetLeaderboard().ServeHTTP(rr, setupReq(http.MethodGet, "/v1/leaderboard", "", nil))
		var out []engine.LeaderboardEntry
		_ = json.NewDecoder(rr.Body).Decode(&out)
		return out
	}

	if n := len(get()); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
	f.gift(t, "2", "bob", 10, 1)
	if n := len(get()); n != 1 {
		t.Fatalf("expected cached 1 entry, got %d", n)
	}
	f.board.Invalidate()
	if n := len(get()); n != 2 {
		t.Fatalf("expected 2 entries after invalidate, got %d", n)
	}
}

func TestGetUser_Unknown(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	GetUser(f.ctl).ServeHTTP(rr, setupReq(http.MethodGet, "/v1/users/x", "", map[string]string{"viewer_id": "x"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var d engine.UserDetail
	_ = json.NewDecoder(rr.Body).Decode(&d)
	if d.Found {
		t.Fatal("expected found=false")
	}
}

func TestSetScoring(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.control.SetScoring().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/control/scoring/true", "", map[string]string{"active": "true"}))
	if rr.Code != http.StatusOK || !f.ctl.ScoringActive() {
		t.Fatalf("expected scoring active, code %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	f.control.SetScoring().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/control/scoring/maybe", "", map[string]string{"active": "maybe"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestStart_Conflict(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.control.Start().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/control/start", `{"mode":"mock","target":"x.jsonl"}`, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	f.control.Start().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/control/start", `{"mode":"mock"}`, nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	f.control.Stop().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/control/stop", "", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	f.control.Start().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/control/start?mode=tiktok", "", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rr.Code)
	}
}

func TestStart_RejectsTargetOutsideReplayDir(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"mode":"mock","target":"/etc/passwd"}`,
		`{"mode":"mock","target":"../../secrets.jsonl"}`,
	} {
		rr := httptest.NewRecorder()
		f.control.Start().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/control/start", body, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", body, rr.Code, rr.Body.String())
		}
	}
	st, err := f.ctl.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Connected {
		t.Fatal("rejected target must not start a source")
	}
}

func TestListLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, msg := range []string{"Connected to studio", "alice sent Rose x5", "Disconnected from studio"} {
		if err := f.arch.AppendLog(ctx, archive.LogEntry{Level: archive.LevelInfo, Message: msg}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rr := httptest.NewRecorder()
	f.control.ListLogs().ServeHTTP(rr, setupReq(http.MethodGet, "/v1/logs?limit=2", "", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Logs []archive.LogEntry `json:"logs"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Logs) != 2 || body.Logs[0].Message != "Disconnected from studio" {
		t.Fatalf("unexpected logs %+v", body.Logs)
	}
}

func TestSelectWinner_Empty(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	f.control.SelectWinner().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/winner/select", "", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "NO_WINNER") {
		t.Fatalf("expected NO_WINNER code, got %s", rr.Body.String())
	}
}

func TestSelectWinner(t *testing.T) {
	f := newFixture(t)
	f.gift(t, "1", "alice", 10, 5)

	rr := httptest.NewRecorder()
	f.control.SelectWinner().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/winner/select", "", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var w show.Winner
	_ = json.NewDecoder(rr.Body).Decode(&w)
	if w.UserID != "1" || w.Score != 350 {
		t.Fatalf("unexpected winner %+v", w)
	}
}

func TestMarkCommentUsed(t *testing.T) {
	f := newFixture(t)
	c, _ := f.arch.SaveComment(context.Background(), archive.Comment{SessionID: "show-1", ViewerID: "1", Content: "q"})

	rr := httptest.NewRecorder()
	f.control.MarkCommentUsed().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/comments/"+c.ID+"/used", "", map[string]string{"comment_id": c.ID}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	f.control.ListComments().ServeHTTP(rr, setupReq(http.MethodGet, "/v1/users/1/comments?unused=1", "", map[string]string{"viewer_id": "1"}))
	var body struct {
		Comments []archive.Comment `json:"comments"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if len(body.Comments) != 0 {
		t.Fatalf("expected no unused comments, got %d", len(body.Comments))
	}

	rr = httptest.NewRecorder()
	f.control.MarkCommentUsed().ServeHTTP(rr, setupReq(http.MethodDelete, "/v1/comments/nope/used", "", map[string]string{"comment_id": "nope"}))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSetSession_BadJSON(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	f.control.SetSession().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/session", `{bad`, nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	f.control.SetSession().ServeHTTP(rr, setupReq(http.MethodPost, "/v1/session", `{"session_id":"round-2","reset":true}`, nil))
	if rr.Code != http.StatusOK || f.ctl.SessionID() != "round-2" {
		t.Fatalf("expected session switch, code %d", rr.Code)
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	secret := []byte("secret")
	h := Login(string(hash), auth.Issuer{Secret: secret, TTL: time.Hour})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, setupReq(http.MethodPost, "/v1/auth/token", `{"password":"wrong"}`, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, setupReq(http.MethodPost, "/v1/auth/token", `{"password":"letmein"}`, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var tok tokenResponse
	_ = json.NewDecoder(rr.Body).Decode(&tok)
	claims, err := auth.JWTVerifier{Secret: secret}.Parse(tok.AccessToken)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.Role != auth.RoleAdmin {
		t.Fatalf("expected admin role, got %q", claims.Role)
	}

	rr = httptest.NewRecorder()
	Login("", auth.Issuer{Secret: secret}).ServeHTTP(rr, setupReq(http.MethodPost, "/v1/auth/token", `{"password":"x"}`, nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when disabled, got %d", rr.Code)
	}
}

func TestLeaderboardStream(t *testing.T) {
	f := newFixture(t)
	f.gift(t, "1", "alice", 10, 1)
	f.board.Cache = noopCache{}

	srv := httptest.NewServer(LeaderboardStream(f.board, 10*time.Millisecond, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first []engine.LeaderboardEntry
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(first))
	}

	f.gift(t, "2", "bob", 10, 2)
	var second []engine.LeaderboardEntry
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second frame: %v", err)
	}
	if len(second) != 2 || second[0].UserID != "2" {
		t.Fatalf("unexpected second frame: %+v", second)
	}
}
