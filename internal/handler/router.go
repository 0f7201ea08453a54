package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/taskmanager/internal/middleware"
)

// DefaultMaxBodyBytes はリクエストボディの既定の上限（10MiB）。
const DefaultMaxBodyBytes int64 = 10 << 20

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Authenticator     middleware.Authenticator
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.RequestRecorder
	CORSAllowedOrigin string
	MaxBodyBytes      int64
	Development       bool

	// サービス
	AuthService AuthServiceInterface
	TaskService TaskServiceInterface
	UserService UserServiceInterface

	// 運用エンドポイント
	Store          Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS → Compress → RequestSize
//
// 認証が必要なルートには、さらに Auth → RateLimit(General) を適用する。
// 登録・ログインにはIP単位のRateLimit(Auth)を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.Compress(5))
	r.Use(chimw.RequestSize(maxBody))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteFailure(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteFailure(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.Development)
	taskHandler := NewTaskHandler(deps.TaskService, deps.Development)
	userHandler := NewUserHandler(deps.UserService, deps.Development)

	// --- 認証不要のルート ---

	r.Get("/api/health", Health)
	if deps.Store != nil {
		r.Get("/api/ready", NewReadyHandler(deps.Store))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/google", authHandler.GoogleSignIn)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			protect(r, deps)
			r.Get("/profile", authHandler.Profile)
			r.Put("/profile", authHandler.UpdateProfile)
			r.Put("/change-password", authHandler.ChangePassword)
			r.Post("/logout", authHandler.Logout)
		})
	})

	r.Route("/api/tasks", func(r chi.Router) {
		protect(r, deps)

		r.Post("/", taskHandler.Create)
		r.Get("/", taskHandler.List)
		r.Get("/overdue", taskHandler.Overdue)
		r.Get("/upcoming", taskHandler.Upcoming)
		r.Get("/stats", taskHandler.Stats)

		// 一括操作
		r.Put("/bulk/update", taskHandler.BulkUpdate)
		r.Delete("/bulk/delete", taskHandler.BulkDelete)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", taskHandler.Get)
			r.Put("/", taskHandler.Update)
			r.Delete("/", taskHandler.Delete)
			r.Patch("/toggle", taskHandler.Toggle)
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		protect(r, deps)

		r.Get("/profile", authHandler.UserProfile)
		r.Put("/profile", authHandler.UpdateProfile)
		r.Put("/change-password", authHandler.ChangePassword)
		r.Get("/stats", userHandler.Stats)
		r.Get("/activity", userHandler.Activity)
		r.Delete("/account", userHandler.DeleteAccount)
	})

	return r
}

// protect は認証ゲートとユーザー単位のレート制限をルーターに適用する。
func protect(r chi.Router, deps *RouterDeps) {
	r.Use(middleware.NewAuthMiddleware(deps.Authenticator, deps.Development))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}
}
