package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/taskmanager/internal/middleware"
	"github.com/hitoshi/taskmanager/internal/model"
)

// readyTimeout はストア疎通確認のタイムアウト。
const readyTimeout = 2 * time.Second

// Pinger はストアの疎通確認インターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health はプロセスの生存確認に応答する。ストアには問い合わせない。
// GET /api/health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteSuccess(w, http.StatusOK, "TaskManager API is running", healthResponse{
		Status:    "OK",
		Timestamp: model.Now(),
	})
}

// NewReadyHandler はストアに到達できる場合のみ200を返すハンドラーを生成する。
// GET /api/ready
func NewReadyHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", slog.String("error", err.Error()))
			middleware.WriteFailure(w, http.StatusServiceUnavailable, "Service unavailable")
			return
		}
		middleware.WriteSuccess(w, http.StatusOK, "TaskManager API is ready", healthResponse{
			Status:    "READY",
			Timestamp: model.Now(),
		})
	}
}
