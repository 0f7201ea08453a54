// Package app はコマンドの解析と依存関係のワイヤリングを行い、アプリケーションを起動する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/taskmanager/internal/auth"
	"github.com/hitoshi/taskmanager/internal/config"
	"github.com/hitoshi/taskmanager/internal/database"
	"github.com/hitoshi/taskmanager/internal/handler"
	"github.com/hitoshi/taskmanager/internal/logger"
	"github.com/hitoshi/taskmanager/internal/metrics"
	"github.com/hitoshi/taskmanager/internal/middleware"
	"github.com/hitoshi/taskmanager/internal/repository"
	"github.com/hitoshi/taskmanager/internal/task"
	"github.com/hitoshi/taskmanager/internal/user"
	"github.com/hitoshi/taskmanager/internal/worker/schedule"
	"github.com/hitoshi/taskmanager/internal/worker/snapshot"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込みエラーを出力できるよう、先にINFOでセットアップする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsからサブコマンドを解析し、対応するモードで起動する。
// ctxがキャンセルされるとサーバーはグレースフルシャットダウンする。
func Run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("env", cfg.AppEnv),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, commandArg(args, 0))
	default:
		return runServe(ctx, cfg)
	}
}

// services はHTTPハンドラーとワーカーが共有する依存関係。
type services struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	snapshot    *snapshot.Job
}

// wire はストアとレジストリから全サービスを組み立てる。
func wire(cfg *config.Config, store repository.Store, reg *prometheus.Registry) (*services, error) {
	collector := metrics.NewCollector(reg)

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}
	tokens := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpire)

	var google auth.GoogleVerifier
	if cfg.GoogleClientID != "" {
		google = auth.NewGoogleTokenVerifier(auth.GoogleVerifierConfig{ClientID: cfg.GoogleClientID})
	} else {
		slog.Warn("GOOGLE_CLIENT_ID is not set; google id tokens are not verified")
	}

	authService := auth.NewService(store.Users, hasher, tokens, google, collector)
	taskService := task.NewService(store.Tasks, nil)
	userService := user.NewService(store.Users, store.Tasks, store.Accounts, hasher)

	rlConfig := middleware.DefaultRateLimiterConfig()
	rlConfig.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
	rlConfig.GeneralBurst = cfg.RateLimitGeneral
	rlConfig.AuthRate = middleware.PerMinute(cfg.RateLimitAuth)
	rlConfig.AuthBurst = cfg.RateLimitAuth
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     authService,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		Development:       cfg.IsDevelopment(),

		AuthService: authService,
		TaskService: taskService,
		UserService: userService,

		Store:          store.Health,
		MetricsHandler: metrics.Handler(reg),
	})

	return &services{
		handler:     router,
		rateLimiter: rateLimiter,
		snapshot:    snapshot.NewJob(store.Users, store.Tasks, collector, slog.Default()),
	}, nil
}

// newRegistry はアプリケーション用のPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーと統計スナップショットを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.DatabaseTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	svc, err := wire(cfg, store, newRegistry())
	if err != nil {
		return err
	}
	defer svc.rateLimiter.Stop()

	scheduler := schedule.NewScheduler(slog.Default())
	if err := scheduler.Add("stats_snapshot", cfg.StatsSnapshotSchedule, svc.snapshot); err != nil {
		return err
	}
	scheduler.RunNow("stats_snapshot", svc.snapshot)
	scheduler.Start()
	defer scheduler.Stop()

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := &http.Server{
		Handler:      svc.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はPostgreSQLのマイグレーションを実行する。
// MongoDBはスキーマを持たず、インデックスはserve起動時に作成する。
func runMigrate(cfg *config.Config, direction string) error {
	if cfg.DatabaseDriver != config.DriverPostgres {
		return fmt.Errorf("migrate requires DATABASE_DRIVER=%s, got %q", config.DriverPostgres, cfg.DatabaseDriver)
	}

	dir, err := database.ParseDirection(direction)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", string(dir)),
	)

	version, err := database.Migrate(cfg.DatabaseURL, dir)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// healthcheckPort はSERVER_PORT、PORTの順に待ち受けポートを決める。
func healthcheckPort() string {
	for _, key := range []string{"SERVER_PORT", "PORT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "5000"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/api/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
