package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/taskmanager/internal/middleware"
	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Stats(ctx context.Context, userID string) (*user.Stats, error)
	Activity(ctx context.Context, userID, days string) ([]model.Activity, error)
	// DeleteAccount はパスワードを確認した上で、ユーザーと全タスクを削除する。
	DeleteAccount(ctx context.Context, userID, password string) error
}

// UserHandler はユーザー統計と退会のHTTPハンドラー。
type UserHandler struct {
	service     UserServiceInterface
	development bool
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, development bool) *UserHandler {
	return &UserHandler{service: service, development: development}
}

type userStatsCounts struct {
	TotalTasks     int64   `json:"totalTasks"`
	CompletedTasks int64   `json:"completedTasks"`
	PendingTasks   int64   `json:"pendingTasks"`
	OverdueTasks   int64   `json:"overdueTasks"`
	RecentTasks    int64   `json:"recentTasks"`
	CompletionRate float64 `json:"completionRate"`
}

type userStatsResponse struct {
	Stats      userStatsCounts      `json:"stats"`
	DailyStats []dailyCountResponse `json:"dailyStats"`
}

type activityEnvelope struct {
	Activity []activityResponse `json:"activity"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

// Stats はユーザーのタスク統計と直近7日間の日別件数を返す。
// GET /api/users/stats
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err, h.development)
		return
	}

	daily := make([]dailyCountResponse, 0, len(stats.Daily))
	for _, d := range stats.Daily {
		daily = append(daily, dailyCountResponse{Date: d.Date, Created: d.Created, Completed: d.Completed})
	}

	middleware.WriteSuccess(w, http.StatusOK, "User statistics retrieved successfully", userStatsResponse{
		Stats: userStatsCounts{
			TotalTasks:     stats.Counts.Total,
			CompletedTasks: stats.Counts.Completed,
			PendingTasks:   stats.Counts.Pending(),
			OverdueTasks:   stats.Counts.Overdue,
			RecentTasks:    stats.RecentTasks,
			CompletionRate: stats.CompletionRate,
		},
		DailyStats: daily,
	})
}

// Activity は直近のタスク作成・更新イベントを返す。
// GET /api/users/activity?days=30
func (h *UserHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	activity, err := h.service.Activity(r.Context(), userID, r.URL.Query().Get("days"))
	if err != nil {
		middleware.WriteError(w, r, err, h.development)
		return
	}

	out := make([]activityResponse, 0, len(activity))
	for _, a := range activity {
		out = append(out, activityResponse{TaskID: a.TaskID, Title: a.Title, Action: a.Action, Date: a.Date})
	}
	middleware.WriteSuccess(w, http.StatusOK, "User activity retrieved successfully", activityEnvelope{Activity: out})
}

// DeleteAccount はパスワードを確認して退会処理を行う。
// DELETE /api/users/account
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req deleteAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, r, err, h.development)
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID, req.Password); err != nil {
		middleware.WriteError(w, r, err, h.development)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Account deleted successfully", nil)
}
