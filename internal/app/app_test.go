package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/taskmanager/internal/config"
	"github.com/hitoshi/taskmanager/internal/repository/memory"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_DRIVER", config.DriverMemory)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SERVER_PORT", "0")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("STATS_SNAPSHOT_SCHEDULE", "")
}

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DatabaseDriver != config.DriverMemory {
		t.Errorf("DatabaseDriver = %q, want %q", cfg.DatabaseDriver, config.DriverMemory)
	}

	slog.Default().Info("init test")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

// TestInit_AppliesLogLevel はLOG_LEVELがグローバルロガーに反映されることを検証する。
func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "error")
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Warn("suppressed")
	if buf.Len() != 0 {
		t.Errorf("warn log should be suppressed, got %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("JWT_SECRET", "")
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing JWT_SECRET, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("JWT_SECRET", "")
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	if err := Run(context.Background(), &buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

// TestRun_Serve_ShutsDownOnCancel はインメモリストアでサーバーが起動し、
// コンテキストのキャンセルで正常終了することを検証する。
func TestRun_Serve_ShutsDownOnCancel(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var buf bytes.Buffer
	go func() {
		done <- Run(ctx, &buf, nil)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected graceful shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRun_Migrate_RequiresPostgres(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	err := Run(context.Background(), &buf, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_DRIVER") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestRunMigrate_InvalidDirection(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: config.DriverPostgres, DatabaseURL: "postgres://localhost/db"}
	if err := runMigrate(cfg, "sideways"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: "sqlite", DatabaseTimeout: time.Second}
	if _, err := openStore(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func testConfig() *config.Config {
	return &config.Config{
		DatabaseDriver:    config.DriverMemory,
		DatabaseTimeout:   time.Second,
		JWTSecret:         "test-secret",
		JWTExpire:         time.Hour,
		BcryptCost:        4,
		RateLimitGeneral:  120,
		RateLimitAuth:     20,
		AppEnv:            "test",
		MaxBodyBytes:      1 << 20,
		CORSAllowedOrigin: "http://localhost:3000",
	}
}

// TestWire_ServesAPIAndMetrics はワイヤリング済みのハンドラーが登録からメトリクス公開まで動作することを検証する。
func TestWire_ServesAPIAndMetrics(t *testing.T) {
	store := memory.NewStore().Repositories()
	svc, err := wire(testConfig(), store, newRegistry())
	if err != nil {
		t.Fatalf("wire error: %v", err)
	}
	defer svc.rateLimiter.Stop()

	srv := httptest.NewServer(svc.handler)
	defer srv.Close()

	body := `{"email":"wired@example.com","password":"secret1","displayName":"wired"}`
	resp, err := http.Post(srv.URL+"/api/auth/register", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	if err := svc.snapshot.Run(context.Background()); err != nil {
		t.Fatalf("snapshot error: %v", err)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)

	for _, want := range []string{
		`taskmanager_auth_events_total{event="register",outcome="success"} 1`,
		"taskmanager_users 1",
		`taskmanager_http_requests_total{method="POST",route="/api/auth/register",status_code="201"} 1`,
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHealthcheckPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PORT", "")
	if got := healthcheckPort(); got != "5000" {
		t.Errorf("default port = %q, want 5000", got)
	}
	t.Setenv("PORT", "8080")
	if got := healthcheckPort(); got != "8080" {
		t.Errorf("PORT fallback = %q, want 8080", got)
	}
	t.Setenv("SERVER_PORT", "9090")
	if got := healthcheckPort(); got != "9090" {
		t.Errorf("SERVER_PORT = %q, want 9090", got)
	}
}

func TestRunHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]
	if err := runHealthcheck(port); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}
