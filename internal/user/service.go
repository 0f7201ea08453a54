// Package user はユーザー統計、アクティビティ、退会のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
)

// 統計・アクティビティの集計期間
const (
	RecentTaskDays      = 30
	DailyStatsDays      = 7
	DefaultActivityDays = 30
	MaxActivityDays     = 365
	ActivityLimit       = 50
)

// PasswordComparer はパスワード照合のインターフェース。
type PasswordComparer interface {
	Compare(hash, password string) bool
}

// Stats はユーザーのタスク統計。
type Stats struct {
	Counts         model.TaskCounts
	RecentTasks    int64
	CompletionRate float64
	Daily          []model.DailyCount
}

// Service はユーザー管理のサービス層。
type Service struct {
	users    repository.UserRepository
	tasks    repository.TaskRepository
	accounts repository.AccountRepository
	hasher   PasswordComparer

	// Now は現在時刻の取得関数。テストで差し替える。
	Now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	tasks repository.TaskRepository,
	accounts repository.AccountRepository,
	hasher PasswordComparer,
) *Service {
	return &Service{
		users:    users,
		tasks:    tasks,
		accounts: accounts,
		hasher:   hasher,
		Now:      model.Now,
	}
}

// Stats はタスク件数、直近30日の作成数、完了率、直近7日間の日別件数を返す。
// 日別件数はUTCの日付で今日を含む7日分を昇順に並べ、タスクのない日は0件で埋める。
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	now := s.Now()

	counts, err := s.tasks.Counts(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	recent, err := s.tasks.CountCreatedSince(ctx, userID, now.AddDate(0, 0, -RecentTaskDays))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent tasks: %w", err)
	}

	today := now.UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(DailyStatsDays - 1))
	daily, err := s.tasks.DailyCreated(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily stats: %w", err)
	}

	return &Stats{
		Counts:         counts,
		RecentTasks:    recent,
		CompletionRate: counts.CompletionRate(),
		Daily:          fillDays(daily, start, DailyStatsDays),
	}, nil
}

// fillDays はstartからdays日分の日別件数を返す。集計にない日は0件とする。
func fillDays(counts []model.DailyCount, start time.Time, days int) []model.DailyCount {
	byDate := make(map[string]model.DailyCount, len(counts))
	for _, c := range counts {
		byDate[c.Date] = c
	}
	out := make([]model.DailyCount, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		c, ok := byDate[date]
		if !ok {
			c = model.DailyCount{Date: date}
		}
		out = append(out, c)
	}
	return out
}

// Activity は直近days日間に作成・更新されたタスクを新しい順に最大50件返す。
// daysは未指定（空文字列）の場合30日。
func (s *Service) Activity(ctx context.Context, userID, days string) ([]model.Activity, error) {
	n := DefaultActivityDays
	if days != "" {
		v, err := strconv.Atoi(days)
		if err != nil || v < 1 || v > MaxActivityDays {
			return nil, model.NewValidationError("Validation failed", model.FieldError{
				Field:   "days",
				Message: fmt.Sprintf("Days must be between 1 and %d", MaxActivityDays),
				Value:   days,
			})
		}
		n = v
	}

	activity, err := s.tasks.RecentActivity(ctx, userID, s.Now().AddDate(0, 0, -n), ActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	return activity, nil
}

// DeleteAccount はパスワードを確認した上で、ユーザーの全タスクとユーザーを削除する。
// 削除はストアのトランザクション内で行われ、タスクだけが残る状態にはならない。
func (s *Service) DeleteAccount(ctx context.Context, userID, password string) error {
	var fields model.FieldErrors
	fields.Add(model.UserRules.AccountPassword.Check(password))
	if err := fields.Err(); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.ErrUserNotFound
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		return model.ErrWrongAccountPassword
	}

	slog.Info("deleting account", slog.String("user_id", userID))

	deleted, err := s.accounts.DeleteAccount(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	slog.Info("account deleted",
		slog.String("user_id", userID),
		slog.Int64("deleted_tasks", deleted),
	)
	return nil
}
