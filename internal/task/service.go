// Package task はタスク管理のドメインロジックを提供する。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
	"github.com/hitoshi/taskmanager/internal/security"
)

// Sanitizer はテキスト入力のサニタイズを行うインターフェース。
type Sanitizer interface {
	Sanitize(input string) string
}

// ListResult はタスク一覧の1ページ分の結果。
type ListResult struct {
	Tasks []*model.Task
	Page  int
	Limit int
	Total int64
	Pages int
}

// Stats はタスクの集計結果。
type Stats struct {
	Counts         model.TaskCounts
	CompletionRate float64
	ByPriority     []model.GroupCount
	ByCategory     []model.GroupCount
}

// Service はタスク管理のサービス層。
// すべての操作は所有者（userID）でスコープされ、他ユーザーのタスクは存在しないものとして扱う。
type Service struct {
	tasks     repository.TaskRepository
	sanitizer Sanitizer

	// Now は現在時刻の取得関数。テストで差し替える。
	Now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。sanitizerがnilの場合はbluemondayのStrictPolicyを使う。
func NewService(tasks repository.TaskRepository, sanitizer Sanitizer) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		tasks:     tasks,
		sanitizer: sanitizer,
		Now:       model.Now,
	}
}

// Create はタスクを作成する。優先度の既定値はmedium。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Task, error) {
	c := cleaner{sanitizer: s.sanitizer}
	t := c.newTask(in, userID, s.Now())
	if err := c.fields.Err(); err != nil {
		return nil, err
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	slog.Info("task created", slog.String("user_id", userID), slog.String("task_id", t.ID))
	return t, nil
}

// List はフィルタ・ソート・ページングを適用したタスク一覧を返す。
// Totalはフィルタに一致するタスクの総数。
func (s *Service) List(ctx context.Context, userID string, params ListParams) (*ListResult, error) {
	q, err := parseListParams(params)
	if err != nil {
		return nil, err
	}

	tasks, total, err := s.tasks.List(ctx, userID, q.repo)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	pages := int((total + int64(q.limit) - 1) / int64(q.limit))
	return &ListResult{
		Tasks: tasks,
		Page:  q.page,
		Limit: q.limit,
		Total: total,
		Pages: pages,
	}, nil
}

// Get は所有者のタスクを取得する。IDの形式が不正な場合も見つからないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Task, error) {
	if !s.tasks.ValidID(id) {
		return nil, model.ErrTaskNotFound
	}
	t, err := s.tasks.FindByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	if t == nil {
		return nil, model.ErrTaskNotFound
	}
	return t, nil
}

// Update はリクエストで指定されたフィールドのみを更新する。
// 指定フィールドがない場合は更新日時を変えずに現在のタスクを返す。
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (*model.Task, error) {
	c := cleaner{sanitizer: s.sanitizer}
	u := c.update(in, s.Now())
	if err := c.fields.Err(); err != nil {
		return nil, err
	}
	if !s.tasks.ValidID(id) {
		return nil, model.ErrTaskNotFound
	}
	if u.IsEmpty() {
		return s.Get(ctx, userID, id)
	}

	t, err := s.tasks.Update(ctx, userID, id, u)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	if t == nil {
		return nil, model.ErrTaskNotFound
	}
	return t, nil
}

// Delete は所有者のタスクを削除する。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if !s.tasks.ValidID(id) {
		return model.ErrTaskNotFound
	}
	deleted, err := s.tasks.Delete(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if !deleted {
		return model.ErrTaskNotFound
	}
	slog.Info("task deleted", slog.String("user_id", userID), slog.String("task_id", id))
	return nil
}

// Toggle は完了状態を反転する。完了にした場合はcompletedAtを現在時刻に設定し、未完了に戻した場合はクリアする。
func (s *Service) Toggle(ctx context.Context, userID, id string) (*model.Task, error) {
	if !s.tasks.ValidID(id) {
		return nil, model.ErrTaskNotFound
	}
	t, err := s.tasks.ToggleCompletion(ctx, userID, id, s.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to toggle task completion: %w", err)
	}
	if t == nil {
		return nil, model.ErrTaskNotFound
	}
	return t, nil
}

// Overdue は期限切れの未完了タスクを期限の古い順に返す。
func (s *Service) Overdue(ctx context.Context, userID string) ([]*model.Task, error) {
	tasks, err := s.tasks.ListOverdue(ctx, userID, s.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	return tasks, nil
}

// Upcoming は現在からdays日以内に期限を迎える未完了タスクを期限の近い順に返す。
// daysは未指定（空文字列）の場合7日。
func (s *Service) Upcoming(ctx context.Context, userID, days string) ([]*model.Task, error) {
	n, err := parseUpcomingDays(days)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	tasks, err := s.tasks.ListDueBetween(ctx, userID, now, now.AddDate(0, 0, n))
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming tasks: %w", err)
	}
	return tasks, nil
}

// Stats はタスクの件数、完了率、優先度別・カテゴリ別の件数を返す。
// 優先度別はlow, medium, highの順、カテゴリ別は名前順に並べる。
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	counts, err := s.tasks.Counts(ctx, userID, s.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	byPriority, err := s.tasks.CountByPriority(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by priority: %w", err)
	}
	byCategory, err := s.tasks.CountByCategory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by category: %w", err)
	}

	return &Stats{
		Counts:         counts,
		CompletionRate: counts.CompletionRate(),
		ByPriority:     orderByPriority(byPriority),
		ByCategory:     orderByKey(byCategory),
	}, nil
}

func orderByPriority(groups []model.GroupCount) []model.GroupCount {
	out := make([]model.GroupCount, 0, len(groups))
	for _, p := range model.Priorities {
		for _, g := range groups {
			if g.Key == string(p) && g.Count > 0 {
				out = append(out, g)
			}
		}
	}
	return out
}

func orderByKey(groups []model.GroupCount) []model.GroupCount {
	out := make([]model.GroupCount, 0, len(groups))
	for _, g := range groups {
		if g.Key != "" && g.Count > 0 {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// validateIDs は一括操作のID一覧を検証する。
func (s *Service) validateIDs(ids []string, fields *model.FieldErrors) {
	if len(ids) == 0 {
		fields.Addf("taskIds", ids, msgTaskIDs)
		return
	}
	for _, id := range ids {
		if !s.tasks.ValidID(id) {
			fields.Addf("taskIds", id, msgTaskIDForm)
		}
	}
}

// BulkUpdate は指定IDのうち所有者のタスクに更新を適用し、更新件数を返す。
// updatesがnilまたは更新フィールドを含まない場合は入力エラーとする。
func (s *Service) BulkUpdate(ctx context.Context, userID string, ids []string, updates *UpdateInput) (int64, error) {
	var fields model.FieldErrors
	s.validateIDs(ids, &fields)

	var u model.TaskUpdate
	if updates == nil {
		fields.Addf("updates", nil, "Updates must be an object")
	} else {
		c := cleaner{sanitizer: s.sanitizer}
		u = c.update(*updates, s.Now())
		fields = append(fields, c.fields...)
		if u.IsEmpty() {
			fields.Addf("updates", nil, "Updates must contain at least one field")
		}
	}
	if err := fields.Err(); err != nil {
		return 0, err
	}

	n, err := s.tasks.BulkUpdate(ctx, userID, ids, u)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update tasks: %w", err)
	}
	slog.Info("tasks bulk updated", slog.String("user_id", userID), slog.Int64("count", n))
	return n, nil
}

// BulkDelete は指定IDのうち所有者のタスクを削除し、削除件数を返す。
func (s *Service) BulkDelete(ctx context.Context, userID string, ids []string) (int64, error) {
	var fields model.FieldErrors
	s.validateIDs(ids, &fields)
	if err := fields.Err(); err != nil {
		return 0, err
	}

	n, err := s.tasks.BulkDelete(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete tasks: %w", err)
	}
	slog.Info("tasks bulk deleted", slog.String("user_id", userID), slog.Int64("count", n))
	return n, nil
}
