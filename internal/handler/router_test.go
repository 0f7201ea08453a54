package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/taskmanager/internal/auth"
	"github.com/hitoshi/taskmanager/internal/repository"
	"github.com/hitoshi/taskmanager/internal/repository/memory"
	"github.com/hitoshi/taskmanager/internal/task"
	"github.com/hitoshi/taskmanager/internal/user"
)

// --- テスト用サーバー ---

type testServer struct {
	t       *testing.T
	handler http.Handler
	repos   repository.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repos := memory.NewStore().Repositories()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	tokens := auth.NewJWTManager("test-secret", time.Hour)
	authSvc := auth.NewService(repos.Users, hasher, tokens, nil, nil)

	h := NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Authenticator:     authSvc,
		CORSAllowedOrigin: "http://localhost:3000",
		AuthService:       authSvc,
		TaskService:       task.NewService(repos.Tasks, nil),
		UserService:       user.NewService(repos.Users, repos.Tasks, repos.Accounts, hasher),
		Store:             repos.Health,
	})
	return &testServer{t: t, handler: h, repos: repos}
}

// envelope はテストでレスポンスを読むための汎用エンベロープ。
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *testServer) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: failed to decode envelope: %v\nraw: %s", method, path, err, w.Body.String())
	}
	return w, env
}

func (s *testServer) register(email, password string) string {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": password})
	if w.Code != http.StatusCreated {
		s.t.Fatalf("register: status = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		Token string `json:"token"`
	}
	decodeData(s.t, env, &data)
	return data.Token
}

func (s *testServer) createTask(token string, body map[string]any) map[string]any {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/tasks", token, body)
	if w.Code != http.StatusCreated {
		s.t.Fatalf("create task: status = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		Task map[string]any `json:"task"`
	}
	decodeData(s.t, env, &data)
	return data.Task
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v\nraw: %s", err, string(env.Data))
	}
}

func tomorrow() string {
	return time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
}

// --- 認証 ---

// TestRouter_RegisterAndProfile は登録したユーザーでプロフィールを取得でき、パスワードが含まれないことを検証する。
func TestRouter_RegisterAndProfile(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "Alice@Example.com", "password": "secret1",
	})
	if w.Code != http.StatusCreated || !env.Success || env.Message != "User registered successfully" {
		t.Fatalf("unexpected register response: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(strings.ToLower(w.Body.String()), "password") {
		t.Errorf("response must not contain password: %s", w.Body.String())
	}
	var reg struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	decodeData(t, env, &reg)
	if reg.Token == "" || reg.User["email"] != "alice@example.com" || reg.User["displayName"] != "alice" {
		t.Errorf("unexpected register data: %+v", reg)
	}

	for _, path := range []string{"/api/auth/profile", "/api/users/profile"} {
		w, env = s.do(http.MethodGet, path, reg.Token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
		var profile struct {
			User map[string]any `json:"user"`
		}
		decodeData(t, env, &profile)
		if profile.User["id"] != reg.User["id"] {
			t.Errorf("%s: unexpected user %v", path, profile.User)
		}
	}

	w, env = s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "another",
	})
	if w.Code != http.StatusConflict || env.Message != "User with this email already exists" {
		t.Errorf("duplicate register: %d %s", w.Code, w.Body.String())
	}
}

// TestRouter_Login は正しい認証情報でのみトークンが発行されることを検証する。
func TestRouter_Login(t *testing.T) {
	s := newTestServer(t)
	s.register("bob@example.com", "secret1")

	w, env := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "bob@example.com", "password": "wrong1"})
	if w.Code != http.StatusUnauthorized || env.Message != "Invalid email or password" {
		t.Errorf("wrong password: %d %s", w.Code, w.Body.String())
	}
	if env.Data != nil {
		t.Errorf("no data expected on failure: %s", string(env.Data))
	}

	w, env = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "bob@example.com", "password": "secret1"})
	if w.Code != http.StatusOK || env.Message != "Login successful" {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
}

// TestRouter_ValidationErrors は入力エラーがフィールド一覧付きの400になることを検証する。
func TestRouter_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": "not-an-email", "password": "123"})
	if w.Code != http.StatusBadRequest || env.Message != "Validation failed" {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	fields := map[string]bool{}
	for _, e := range env.Errors {
		fields[e.Field] = true
	}
	if !fields["email"] || !fields["password"] {
		t.Errorf("expected email and password errors, got %+v", env.Errors)
	}

	w, env = s.do(http.MethodPost, "/api/auth/login", "", `{"email": 42}`)
	if w.Code != http.StatusBadRequest || len(env.Errors) != 1 || env.Errors[0].Field != "email" {
		t.Errorf("type error: %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(http.MethodPost, "/api/auth/login", "", `{"email":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d", w.Code)
	}
}

// TestRouter_ProtectedRoutesRequireToken は保護されたルートがトークンなしで401になることを検証する。
func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
		token  string
		want   string
	}{
		{http.MethodGet, "/api/tasks", "", "Access denied. No token provided"},
		{http.MethodGet, "/api/users/stats", "", "Access denied. No token provided"},
		{http.MethodPost, "/api/auth/logout", "", "Access denied. No token provided"},
		{http.MethodGet, "/api/auth/profile", "garbage", "Invalid or expired token"},
	}
	for _, tt := range tests {
		w, env := s.do(tt.method, tt.path, tt.token, nil)
		if w.Code != http.StatusUnauthorized || env.Message != tt.want {
			t.Errorf("%s %s: %d %q, want 401 %q", tt.method, tt.path, w.Code, env.Message, tt.want)
		}
	}
}

// --- タスク ---

// TestRouter_TaskLifecycle は作成、完了切り替え、統計の一連の流れを検証する。
func TestRouter_TaskLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.register("carol@example.com", "secret1")

	created := s.createTask(token, map[string]any{"title": "Pay rent", "dueDate": tomorrow(), "priority": "high"})
	if created["isCompleted"] != false || created["status"] != "pending" {
		t.Errorf("unexpected created task: %v", created)
	}
	if _, ok := created["completedAt"]; ok {
		t.Errorf("completedAt should be absent: %v", created)
	}
	id := created["id"].(string)

	w, env := s.do(http.MethodPatch, "/api/tasks/"+id+"/toggle", token, nil)
	if w.Code != http.StatusOK || env.Message != "Task completion toggled successfully" {
		t.Fatalf("toggle: %d %s", w.Code, w.Body.String())
	}
	var toggled struct {
		Task map[string]any `json:"task"`
	}
	decodeData(t, env, &toggled)
	if toggled.Task["isCompleted"] != true || toggled.Task["completedAt"] == nil || toggled.Task["status"] != "completed" {
		t.Errorf("unexpected toggled task: %v", toggled.Task)
	}

	w, env = s.do(http.MethodGet, "/api/tasks/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	var stats struct {
		Stats struct {
			Total          int64   `json:"total"`
			Completed      int64   `json:"completed"`
			CompletionRate float64 `json:"completionRate"`
		} `json:"stats"`
		PriorityStats []struct {
			ID    string `json:"_id"`
			Count int64  `json:"count"`
		} `json:"priorityStats"`
	}
	decodeData(t, env, &stats)
	if stats.Stats.Total != 1 || stats.Stats.Completed != 1 || stats.Stats.CompletionRate != 100 {
		t.Errorf("unexpected stats: %+v", stats.Stats)
	}
	if len(stats.PriorityStats) != 1 || stats.PriorityStats[0].ID != "high" {
		t.Errorf("unexpected priority stats: %+v", stats.PriorityStats)
	}

	w, _ = s.do(http.MethodDelete, "/api/tasks/"+id, token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: %d", w.Code)
	}
	w, env = s.do(http.MethodGet, "/api/tasks/"+id, token, nil)
	if w.Code != http.StatusNotFound || env.Message != "Task not found" {
		t.Errorf("get after delete: %d %s", w.Code, w.Body.String())
	}
}

// TestRouter_TaskOwnership は他ユーザーのタスクが存在しないものとして扱われることを検証する。
func TestRouter_TaskOwnership(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner@example.com", "secret1")
	other := s.register("other@example.com", "secret1")

	id := s.createTask(owner, map[string]any{"title": "Private", "dueDate": tomorrow()})["id"].(string)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/tasks/" + id},
		{http.MethodPut, "/api/tasks/" + id},
		{http.MethodDelete, "/api/tasks/" + id},
		{http.MethodPatch, "/api/tasks/" + id + "/toggle"},
	} {
		var body any
		if req.method == http.MethodPut {
			body = map[string]any{"title": "Stolen"}
		}
		w, _ := s.do(req.method, req.path, other, body)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s by other user: status = %d, want 404", req.method, req.path, w.Code)
		}
	}

	w, env := s.do(http.MethodDelete, "/api/tasks/bulk/delete", other, map[string]any{"taskIds": []string{id}})
	if w.Code != http.StatusOK || env.Message != "0 tasks deleted successfully" {
		t.Errorf("bulk delete by other user: %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(http.MethodGet, "/api/tasks/"+id, owner, nil)
	if w.Code != http.StatusOK {
		t.Errorf("owner lost task: status = %d", w.Code)
	}
}

// TestRouter_TaskListAndBulk は一覧のページングと一括更新を検証する。
func TestRouter_TaskListAndBulk(t *testing.T) {
	s := newTestServer(t)
	token := s.register("dave@example.com", "secret1")

	var ids []string
	for i := 0; i < 3; i++ {
		created := s.createTask(token, map[string]any{"title": fmt.Sprintf("task-%d", i), "dueDate": tomorrow(), "category": "work"})
		ids = append(ids, created["id"].(string))
	}

	w, env := s.do(http.MethodGet, "/api/tasks?limit=2&sortBy=title&sortOrder=asc", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	var list struct {
		Tasks      []map[string]any `json:"tasks"`
		Pagination struct {
			Page  int   `json:"page"`
			Limit int   `json:"limit"`
			Total int64 `json:"total"`
			Pages int   `json:"pages"`
		} `json:"pagination"`
	}
	decodeData(t, env, &list)
	if len(list.Tasks) != 2 || list.Tasks[0]["title"] != "task-0" {
		t.Errorf("unexpected tasks: %v", list.Tasks)
	}
	if list.Pagination.Total != 3 || list.Pagination.Pages != 2 || list.Pagination.Limit != 2 || list.Pagination.Page != 1 {
		t.Errorf("unexpected pagination: %+v", list.Pagination)
	}

	w, _ = s.do(http.MethodGet, "/api/tasks?limit=500", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("limit over max: status = %d, want 400", w.Code)
	}

	w, env = s.do(http.MethodPut, "/api/tasks/bulk/update", token, map[string]any{
		"taskIds": ids[:2],
		"updates": map[string]any{"priority": "low"},
	})
	if w.Code != http.StatusOK || env.Message != "2 tasks updated successfully" {
		t.Fatalf("bulk update: %d %s", w.Code, w.Body.String())
	}
	var bulk struct {
		ModifiedCount int64 `json:"modifiedCount"`
	}
	decodeData(t, env, &bulk)
	if bulk.ModifiedCount != 2 {
		t.Errorf("modifiedCount = %d, want 2", bulk.ModifiedCount)
	}

	w, _ = s.do(http.MethodPut, "/api/tasks/bulk/update", token, map[string]any{"taskIds": []string{}, "updates": map[string]any{"priority": "low"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty ids: status = %d, want 400", w.Code)
	}

	w, _ = s.do(http.MethodGet, "/api/tasks?priority=low", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("filtered list: %d", w.Code)
	}
}

// --- ユーザー ---

// TestRouter_DeleteAccount は退会後にトークンが無効になり、タスクも削除されることを検証する。
func TestRouter_DeleteAccount(t *testing.T) {
	s := newTestServer(t)
	token := s.register("erin@example.com", "secret1")
	s.createTask(token, map[string]any{"title": "Soon gone", "dueDate": tomorrow()})

	w, env := s.do(http.MethodDelete, "/api/users/account", token, map[string]string{"password": "nope12"})
	if w.Code != http.StatusUnauthorized || env.Message != "Password is incorrect" {
		t.Errorf("wrong password: %d %s", w.Code, w.Body.String())
	}

	w, env = s.do(http.MethodDelete, "/api/users/account", token, map[string]string{"password": "secret1"})
	if w.Code != http.StatusOK || env.Message != "Account deleted successfully" {
		t.Fatalf("delete account: %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(http.MethodGet, "/api/tasks", token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("token after deletion: status = %d, want 401", w.Code)
	}
}

// TestRouter_UserStats は日別統計が7日分返ることを検証する。
func TestRouter_UserStats(t *testing.T) {
	s := newTestServer(t)
	token := s.register("frank@example.com", "secret1")
	s.createTask(token, map[string]any{"title": "today", "dueDate": tomorrow()})

	w, env := s.do(http.MethodGet, "/api/users/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	var stats struct {
		Stats struct {
			TotalTasks  int64 `json:"totalTasks"`
			RecentTasks int64 `json:"recentTasks"`
		} `json:"stats"`
		DailyStats []struct {
			Date    string `json:"date"`
			Created int64  `json:"created"`
		} `json:"dailyStats"`
	}
	decodeData(t, env, &stats)
	if stats.Stats.TotalTasks != 1 || stats.Stats.RecentTasks != 1 {
		t.Errorf("unexpected stats: %+v", stats.Stats)
	}
	if len(stats.DailyStats) != 7 || stats.DailyStats[6].Created != 1 {
		t.Errorf("unexpected daily stats: %+v", stats.DailyStats)
	}

	w, env = s.do(http.MethodGet, "/api/users/activity?days=0", token, nil)
	if w.Code != http.StatusBadRequest || len(env.Errors) != 1 || env.Errors[0].Field != "days" {
		t.Errorf("invalid days: %d %s", w.Code, w.Body.String())
	}
}

// --- 運用エンドポイント ---

// TestRouter_HealthAndNotFound はヘルスチェックと未定義ルートの応答を検証する。
func TestRouter_HealthAndNotFound(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK || !env.Success || env.Message != "TaskManager API is running" {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}

	w, env = s.do(http.MethodGet, "/api/ready", "", nil)
	if w.Code != http.StatusOK || !env.Success {
		t.Errorf("ready: %d %s", w.Code, w.Body.String())
	}

	w, env = s.do(http.MethodGet, "/api/nowhere", "", nil)
	if w.Code != http.StatusNotFound || env.Success || env.Message != "Route not found" {
		t.Errorf("not found: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing on 404")
	}
}

// TestRouter_ChangePasswordAndLogout はパスワード変更後に新しいパスワードでのみログインできることを検証する。
func TestRouter_ChangePasswordAndLogout(t *testing.T) {
	s := newTestServer(t)
	token := s.register("carol@example.com", "secret1")

	w, env := s.do(http.MethodPut, "/api/users/change-password", token, map[string]string{
		"currentPassword": "wrong1", "newPassword": "secret2",
	})
	if w.Code != http.StatusUnauthorized || env.Message != "Current password is incorrect" {
		t.Errorf("wrong current password: %d %s", w.Code, w.Body.String())
	}

	w, env = s.do(http.MethodPut, "/api/users/change-password", token, map[string]string{
		"currentPassword": "secret1", "newPassword": "secret2",
	})
	if w.Code != http.StatusOK || env.Message != "Password changed successfully" {
		t.Fatalf("change password: %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "carol@example.com", "password": "secret1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login with old password: status = %d, want 401", w.Code)
	}
	w, _ = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "carol@example.com", "password": "secret2"})
	if w.Code != http.StatusOK {
		t.Errorf("login with new password: status = %d, want 200", w.Code)
	}

	w, env = s.do(http.MethodPost, "/api/auth/logout", token, nil)
	if w.Code != http.StatusOK || !env.Success || env.Message != "Logged out successfully" {
		t.Errorf("logout: %d %s", w.Code, w.Body.String())
	}
}
