package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
	"github.com/pwannenmacher/MetaRate/internal/assignment"
	"github.com/pwannenmacher/MetaRate/internal/auth"
	"github.com/pwannenmacher/MetaRate/internal/config"
	"github.com/pwannenmacher/MetaRate/internal/middleware"
	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/progress"
	"github.com/pwannenmacher/MetaRate/internal/reportstore"
	"github.com/pwannenmacher/MetaRate/internal/review"
	"github.com/pwannenmacher/MetaRate/pkg/validator"
)

type stubRoster struct {
	users map[string]models.User
}

func (s *stubRoster) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	u, ok := s.users[username]
	if !ok || password != "secret" {
		return nil, review.ErrInvalidCredentials
	}
	return &u, nil
}

func (s *stubRoster) List(_ context.Context) ([]models.User, error) {
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		u.PasswordHash = "hash"
		users = append(users, u)
	}
	return users, nil
}

type testServer struct {
	handler http.Handler
	log     actionlog.Log
	dir     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	pool := `{"rating_id":"r1","report_to_rate":"Left kidney normal."}
{"rating_id":"r2","report_to_rate":"No pleural effusion."}
`
	if err := os.WriteFile(filepath.Join(dir, "rating_reports.jsonl"), []byte(pool), 0o644); err != nil {
		t.Fatal(err)
	}

	users := &stubRoster{users: map[string]models.User{
		"alice": {Username: "alice"},
		"root":  {Username: "root", IsAdmin: true},
		"bob":   {Username: "bob"},
	}}
	mapping, err := assignment.ParseMapping([]byte(`{"missing_pool":["bob"]}`))
	if err != nil {
		t.Fatal(err)
	}

	log := actionlog.NewMemoryLog()
	tracker := progress.NewTracker(
		assignment.NewStaticResolver(mapping, "rating_reports"),
		reportstore.NewStore(reportstore.NewFileSource(dir)),
		progress.NewScanIndex(log),
	)
	machine := review.NewMachine(users, tracker, log, nil)
	registry := review.NewRegistry(review.NewMemoryStore(), time.Hour)
	tokens := auth.NewService(&config.JWTConfig{Expiration: time.Hour})

	mux := http.NewServeMux()
	RegisterRoutes(mux,
		middleware.NewAuthMiddleware(tokens, registry),
		NewAuthHandler(machine, registry, tokens),
		NewReviewHandler(machine, registry, tracker),
		NewAdminHandler(machine, registry, review.NewAdminView(log, users)),
	)
	return &testServer{handler: mux, log: log, dir: dir}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 && rr.Body.Bytes()[0] == '{' {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	rr, payload := s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: username, Password: "secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rr.Code, rr.Body.String())
	}
	return payload["token"].(string)
}

func field(t *testing.T, payload map[string]any, path ...string) any {
	t.Helper()
	var cur any = payload
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("path %v: %v is not an object", path, cur)
		}
		cur = m[p]
	}
	return cur
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"valid credentials", LoginRequest{Username: "alice", Password: "secret"}, http.StatusOK},
		{"wrong password", LoginRequest{Username: "alice", Password: "nope"}, http.StatusUnauthorized},
		{"unknown user", LoginRequest{Username: "mallory", Password: "secret"}, http.StatusUnauthorized},
		{"empty username", LoginRequest{Password: "secret"}, http.StatusUnauthorized},
		{"malformed body", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

func TestLoginFailureIsLogged(t *testing.T) {
	tests := []struct {
		name     string
		username string
	}{
		{"unknown user", "mallory"},
		{"longer than any roster name", strings.Repeat("x", validator.MaxUsernameLength+1)},
		{"control character", "mal\x01lory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rr, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: tt.username, Password: "secret"})
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401 (body %s)", rr.Code, rr.Body.String())
			}

			entries, err := s.log.Read(context.Background(), tt.username)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 || entries[0].Action != models.ActionLoginFailure {
				t.Errorf("log entries = %+v, want a single login failure", entries)
			}
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	rr, _ := s.do(t, http.MethodGet, "/api/v1/review/progress", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestRatingFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	rr, payload := s.do(t, http.MethodGet, "/api/v1/review/progress", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("progress status = %d", rr.Code)
	}
	if payload["label"] != labelStart || payload["total"].(float64) != 2 || payload["rated"].(float64) != 0 {
		t.Fatalf("unexpected progress %v", payload)
	}

	rr, payload = s.do(t, http.MethodPost, "/api/v1/review/start", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d body %s", rr.Code, rr.Body.String())
	}
	if got := field(t, payload, "report", "rating_id"); got != "r1" {
		t.Fatalf("start report = %v, want r1", got)
	}
	if cats, _ := payload["categories"].([]any); len(cats) != len(models.Ratings) {
		t.Errorf("categories = %v", payload["categories"])
	}

	rr, _ = s.do(t, http.MethodPost, "/api/v1/review/submit", token, SubmitRequest{Rating: "bogus"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid rating status = %d, want 400", rr.Code)
	}

	rr, payload = s.do(t, http.MethodPost, "/api/v1/review/submit", token, SubmitRequest{Rating: string(models.RatingNoError), Comment: "fine"})
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d body %s", rr.Code, rr.Body.String())
	}
	if payload["message"] != MsgRatingSubmitted {
		t.Errorf("message = %v", payload["message"])
	}
	if got := field(t, payload, "report", "rating_id"); got != "r2" {
		t.Fatalf("after submit report = %v, want r2", got)
	}

	rr, payload = s.do(t, http.MethodGet, "/api/v1/review/current", token, nil)
	if rr.Code != http.StatusOK || field(t, payload, "report", "rating_id") != "r2" {
		t.Fatalf("current = %d %v", rr.Code, payload)
	}

	rr, payload = s.do(t, http.MethodPost, "/api/v1/review/back", token, nil)
	if rr.Code != http.StatusOK || field(t, payload, "session", "state") != string(models.StateProgress) {
		t.Fatalf("back = %d %v", rr.Code, payload)
	}

	_, payload = s.do(t, http.MethodGet, "/api/v1/review/progress", token, nil)
	if payload["label"] != labelContinue || payload["rated"].(float64) != 1 {
		t.Fatalf("unexpected progress %v", payload)
	}

	// Submitting from the progress page is not a valid transition
	rr, _ = s.do(t, http.MethodPost, "/api/v1/review/submit", token, SubmitRequest{Rating: string(models.RatingNoError)})
	if rr.Code != http.StatusConflict {
		t.Errorf("submit from progress status = %d, want 409", rr.Code)
	}

	s.do(t, http.MethodPost, "/api/v1/review/start", token, nil)
	rr, payload = s.do(t, http.MethodPost, "/api/v1/review/submit", token, SubmitRequest{Rating: string(models.RatingNoError)})
	if rr.Code != http.StatusOK || payload["complete"] != true {
		t.Fatalf("final submit = %d %v", rr.Code, payload)
	}

	entries, err := s.log.Read(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	want := []models.ActionKind{
		models.ActionLogin,
		models.ActionSubmitRating,
		models.ActionNavigateBack,
		models.ActionSubmitRating,
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i, e := range entries {
		if e.Action != want[i] {
			t.Errorf("entry %d action = %s, want %s", i, e.Action, want[i])
		}
	}
}

func TestLogoutEndsSession(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	rr, _ := s.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rr.Code)
	}
	rr, _ = s.do(t, http.MethodGet, "/api/v1/review/progress", token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("progress after logout status = %d, want 401", rr.Code)
	}
}

func TestNewLoginReplacesSession(t *testing.T) {
	s := newTestServer(t)
	first := s.login(t, "alice")
	second := s.login(t, "alice")

	if rr, _ := s.do(t, http.MethodGet, "/api/v1/review/progress", first, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("old token status = %d, want 401", rr.Code)
	}
	if rr, _ := s.do(t, http.MethodGet, "/api/v1/review/progress", second, nil); rr.Code != http.StatusOK {
		t.Errorf("new token status = %d, want 200", rr.Code)
	}
}

func TestMissingPool(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "bob")

	if rr, _ := s.do(t, http.MethodGet, "/api/v1/review/progress", token, nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("progress status = %d, want 503", rr.Code)
	}
	if rr, _ := s.do(t, http.MethodPost, "/api/v1/review/start", token, nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("start status = %d, want 503", rr.Code)
	}
}

func TestStartOnEmptyPool(t *testing.T) {
	s := newTestServer(t)
	if err := os.WriteFile(filepath.Join(s.dir, "rating_reports.jsonl"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	token := s.login(t, "alice")

	_, payload := s.do(t, http.MethodGet, "/api/v1/review/progress", token, nil)
	if payload["total"].(float64) != 0 || payload["fraction"].(float64) != 0 || payload["complete"] != true {
		t.Fatalf("unexpected progress %v", payload)
	}
	rr, payload := s.do(t, http.MethodPost, "/api/v1/review/start", token, nil)
	if rr.Code != http.StatusOK || payload["complete"] != true || payload["message"] != MsgAllRated {
		t.Fatalf("start over empty pool = %d %v", rr.Code, payload)
	}
}

func TestAdminView(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice")
	root := s.login(t, "root")

	tests := []struct {
		name     string
		token    string
		method   string
		path     string
		wantCode int
	}{
		{"non-admin cannot enter", alice, http.MethodPost, "/api/v1/admin/enter", http.StatusForbidden},
		{"non-admin cannot list logs", alice, http.MethodGet, "/api/v1/admin/logs", http.StatusForbidden},
		{"admin outside view cannot list logs", root, http.MethodGet, "/api/v1/admin/logs", http.StatusForbidden},
		{"admin enters", root, http.MethodPost, "/api/v1/admin/enter", http.StatusOK},
		{"admin lists logs", root, http.MethodGet, "/api/v1/admin/logs", http.StatusOK},
		{"admin reads a log", root, http.MethodGet, "/api/v1/admin/logs/alice", http.StatusOK},
		{"admin lists users", root, http.MethodGet, "/api/v1/admin/users", http.StatusOK},
		{"admin exits", root, http.MethodPost, "/api/v1/admin/exit", http.StatusOK},
		{"admin after exit cannot list logs", root, http.MethodGet, "/api/v1/admin/logs", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := s.do(t, tt.method, tt.path, tt.token, nil)
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

func TestAdminLogContents(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "alice")
	root := s.login(t, "root")
	s.do(t, http.MethodPost, "/api/v1/admin/enter", root, nil)

	rr, payload := s.do(t, http.MethodGet, "/api/v1/admin/logs/alice", root, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if payload["name"] != "alice_action_log" {
		t.Errorf("name = %v", payload["name"])
	}
	if entries, _ := payload["entries"].([]any); len(entries) != 1 {
		t.Errorf("entries = %v", payload["entries"])
	}

	rr, _ = s.do(t, http.MethodGet, "/api/v1/admin/users", root, nil)
	if bytes.Contains(rr.Body.Bytes(), []byte("hash")) {
		t.Errorf("user listing leaks password hashes: %s", rr.Body.String())
	}
}

func TestAdminNoLogsMessage(t *testing.T) {
	view := review.NewAdminView(actionlog.NewMemoryLog(), &stubRoster{})
	h := NewAdminHandler(nil, nil, view)

	rr := httptest.NewRecorder()
	h.ListLogs(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs", nil))

	var resp LogsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != MsgNoLogs || len(resp.Logs) != 0 {
		t.Errorf("got %+v", resp)
	}
}
