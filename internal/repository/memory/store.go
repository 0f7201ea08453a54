// Package memory はプロセス内メモリに保持するリポジトリ実装を提供する。
// ローカル開発（DATABASE_DRIVER=memory）とテストで使用する。
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
)

// Store はユーザーとタスクを保持するインメモリストア。
// 全操作は単一のミューテックスで直列化され、各操作はアトミックに見える。
type Store struct {
	mu    sync.RWMutex
	users map[string]*model.User
	tasks map[string]*model.Task
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		users: make(map[string]*model.User),
		tasks: make(map[string]*model.Task),
	}
}

// Repositories はStoreをrepository.Storeとして返す。
func (s *Store) Repositories() repository.Store {
	return repository.Store{
		Users:    s,
		Tasks:    (*taskRepo)(s),
		Accounts: s,
		Health:   s,
		Close:    func(context.Context) error { return nil },
	}
}

// Ping は常に成功する。
func (s *Store) Ping(context.Context) error {
	return nil
}

func copyUser(u *model.User) *model.User {
	c := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

func copyTask(t *model.Task) *model.Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	c.Tags = append([]string(nil), t.Tags...)
	c.Attachments = append([]model.Attachment(nil), t.Attachments...)
	return &c
}

// --- UserRepository ---

// FindByID は指定IDのユーザーを取得する。
func (s *Store) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (s *Store) findUser(match func(*model.User) bool) *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return copyUser(u)
		}
	}
	return nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (s *Store) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return s.findUser(func(u *model.User) bool { return u.Email == email }), nil
}

// FindByGoogleID はGoogleアカウントIDでユーザーを検索する。
func (s *Store) FindByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	if googleID == "" {
		return nil, nil
	}
	return s.findUser(func(u *model.User) bool { return u.GoogleID == googleID }), nil
}

// conflicts はemailまたはgoogleIdが他ユーザーと重複するかどうかを返す。呼び出し側でロックを保持すること。
func (s *Store) conflicts(user *model.User) bool {
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if u.Email == user.Email || (user.GoogleID != "" && u.GoogleID == user.GoogleID) {
			return true
		}
	}
	return false
}

// Create はユーザーを作成する。
func (s *Store) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if s.conflicts(user) {
		return repository.ErrDuplicateKey
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

// Update はユーザーのパスワード以外の可変フィールドを保存する。
func (s *Store) Update(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok {
		return nil
	}
	if s.conflicts(user) {
		return repository.ErrDuplicateKey
	}
	updated := copyUser(user)
	updated.PasswordHash = current.PasswordHash
	updated.CreatedAt = current.CreatedAt
	s.users[user.ID] = updated
	return nil
}

// LinkGoogle はGoogle連携で補完するフィールドとlastLoginのみを更新する。
func (s *Store) LinkGoogle(_ context.Context, id string, link model.GoogleLink, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	if link.GoogleID != "" && s.conflicts(&model.User{ID: id, GoogleID: link.GoogleID}) {
		return repository.ErrDuplicateKey
	}
	if link.GoogleID != "" {
		u.GoogleID = link.GoogleID
	}
	if link.DisplayName != "" {
		u.DisplayName = link.DisplayName
	}
	if link.Avatar != "" {
		u.Avatar = link.Avatar
	}
	u.LastLogin = &at
	u.UpdatedAt = at
	return nil
}

// UpdateProfile はプロフィールを部分更新する。
func (s *Store) UpdateProfile(_ context.Context, id string, patch model.ProfilePatch, updatedAt time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	u.UpdatedAt = updatedAt
	return copyUser(u), nil
}

// UpdatePassword はパスワードハッシュを置き換える。
func (s *Store) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.PasswordHash = passwordHash
		u.UpdatedAt = updatedAt
	}
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (s *Store) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.LastLogin = &at
	}
	return nil
}

// Count は全ユーザー数を返す。
func (s *Store) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// DeleteAccount はユーザーとその全タスクを1回のロック内で削除する。
func (s *Store) DeleteAccount(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return 0, nil
	}
	var deleted int64
	for id, t := range s.tasks {
		if t.UserID == userID {
			delete(s.tasks, id)
			deleted++
		}
	}
	delete(s.users, userID)
	return deleted, nil
}

// --- TaskRepository ---

// taskRepo はStoreのタスク側メソッドセット。UserRepositoryとメソッド名が重なるため型を分ける。
type taskRepo Store

func (r *taskRepo) store() *Store {
	return (*Store)(r)
}

// ValidID はIDがUUID形式かどうかを返す。
func (r *taskRepo) ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// Create はタスクを作成する。
func (r *taskRepo) Create(_ context.Context, task *model.Task) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// owned は所有者のタスクを返す。呼び出し側でロックを保持すること。
func (s *Store) owned(userID, id string) *model.Task {
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return nil
	}
	return t
}

// FindByID は所有者のタスクを取得する。
func (r *taskRepo) FindByID(_ context.Context, userID, id string) (*model.Task, error) {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.owned(userID, id); t != nil {
		return copyTask(t), nil
	}
	return nil, nil
}

// filter は述語に一致する所有タスクのコピーを返す。
func (s *Store) filter(match func(*model.Task) bool) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, copyTask(t))
		}
	}
	return out
}

func matchesFilter(t *model.Task, f repository.TaskFilter) bool {
	if f.IsCompleted != nil && t.IsCompleted != *f.IsCompleted {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.Category != nil && t.Category != *f.Category {
		return false
	}
	return true
}

// compareTasks はソートキーでタスクを比較する（昇順で負、等しければ0）。
func compareTasks(a, b *model.Task, sortBy repository.SortField) int {
	switch sortBy {
	case repository.SortByUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case repository.SortByDueDate:
		return a.DueDate.Compare(b.DueDate)
	case repository.SortByPriority:
		return a.Priority.Rank() - b.Priority.Rank()
	case repository.SortByTitle:
		return strings.Compare(a.Title, b.Title)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// List は条件に一致するタスクのページと総件数を返す。
func (r *taskRepo) List(_ context.Context, userID string, q repository.TaskListQuery) ([]*model.Task, int64, error) {
	tasks := r.store().filter(func(t *model.Task) bool {
		return t.UserID == userID && matchesFilter(t, q.Filter)
	})

	sort.Slice(tasks, func(i, j int) bool {
		c := compareTasks(tasks[i], tasks[j], q.SortBy)
		if c == 0 {
			c = strings.Compare(tasks[i].ID, tasks[j].ID)
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	total := int64(len(tasks))
	if q.Offset >= len(tasks) {
		return nil, total, nil
	}
	end := len(tasks)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return tasks[q.Offset:end], total, nil
}

// Update は部分更新を適用する。
func (r *taskRepo) Update(_ context.Context, userID, id string, u model.TaskUpdate) (*model.Task, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.owned(userID, id)
	if t == nil {
		return nil, nil
	}
	u.Apply(t)
	return copyTask(t), nil
}

// ToggleCompletion は完了状態を反転する。
func (r *taskRepo) ToggleCompletion(_ context.Context, userID, id string, at time.Time) (*model.Task, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.owned(userID, id)
	if t == nil {
		return nil, nil
	}
	completed := !t.IsCompleted
	model.TaskUpdate{IsCompleted: &completed, UpdatedAt: at}.Apply(t)
	return copyTask(t), nil
}

// Delete は所有者のタスクを削除する。
func (r *taskRepo) Delete(_ context.Context, userID, id string) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned(userID, id) == nil {
		return false, nil
	}
	delete(s.tasks, id)
	return true, nil
}

func sortByDue(tasks []*model.Task) []*model.Task {
	sort.Slice(tasks, func(i, j int) bool {
		if c := tasks[i].DueDate.Compare(tasks[j].DueDate); c != 0 {
			return c < 0
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// ListOverdue は期限切れの未完了タスクを期限昇順で返す。
func (r *taskRepo) ListOverdue(_ context.Context, userID string, now time.Time) ([]*model.Task, error) {
	return sortByDue(r.store().filter(func(t *model.Task) bool {
		return t.UserID == userID && !t.IsCompleted && t.DueDate.Before(now)
	})), nil
}

// ListDueBetween は期限がfrom〜toの未完了タスクを期限昇順で返す。
func (r *taskRepo) ListDueBetween(_ context.Context, userID string, from, to time.Time) ([]*model.Task, error) {
	return sortByDue(r.store().filter(func(t *model.Task) bool {
		return t.UserID == userID && !t.IsCompleted && !t.DueDate.Before(from) && !t.DueDate.After(to)
	})), nil
}

func countTasks(tasks []*model.Task, now time.Time) model.TaskCounts {
	var c model.TaskCounts
	for _, t := range tasks {
		c.Total++
		if t.IsCompleted {
			c.Completed++
		} else if t.DueDate.Before(now) {
			c.Overdue++
		}
	}
	return c
}

// Counts は所有者のタスク件数を集計する。
func (r *taskRepo) Counts(_ context.Context, userID string, now time.Time) (model.TaskCounts, error) {
	return countTasks(r.store().filter(func(t *model.Task) bool { return t.UserID == userID }), now), nil
}

// GlobalCounts は全ユーザーのタスク件数を集計する。
func (r *taskRepo) GlobalCounts(_ context.Context, now time.Time) (model.TaskCounts, error) {
	return countTasks(r.store().filter(func(*model.Task) bool { return true }), now), nil
}

func groupBy(tasks []*model.Task, key func(*model.Task) string) []model.GroupCount {
	counts := map[string]int64{}
	var keys []string
	for _, t := range tasks {
		k := key(t)
		if _, ok := counts[k]; !ok {
			keys = append(keys, k)
		}
		counts[k]++
	}
	out := make([]model.GroupCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.GroupCount{Key: k, Count: counts[k]})
	}
	return out
}

// CountByPriority は優先度ごとの件数を返す。
func (r *taskRepo) CountByPriority(_ context.Context, userID string) ([]model.GroupCount, error) {
	tasks := r.store().filter(func(t *model.Task) bool { return t.UserID == userID })
	return groupBy(tasks, func(t *model.Task) string { return string(t.Priority) }), nil
}

// CountByCategory は空でないカテゴリごとの件数を返す。
func (r *taskRepo) CountByCategory(_ context.Context, userID string) ([]model.GroupCount, error) {
	tasks := r.store().filter(func(t *model.Task) bool { return t.UserID == userID && t.Category != "" })
	return groupBy(tasks, func(t *model.Task) string { return t.Category }), nil
}

// CountCreatedSince はsince以降に作成されたタスク数を返す。
func (r *taskRepo) CountCreatedSince(_ context.Context, userID string, since time.Time) (int64, error) {
	tasks := r.store().filter(func(t *model.Task) bool { return t.UserID == userID && !t.CreatedAt.Before(since) })
	return int64(len(tasks)), nil
}

// DailyCreated はsince以降に作成されたタスクをUTC日付ごとに集計する。
func (r *taskRepo) DailyCreated(_ context.Context, userID string, since time.Time) ([]model.DailyCount, error) {
	tasks := r.store().filter(func(t *model.Task) bool { return t.UserID == userID && !t.CreatedAt.Before(since) })
	byDay := map[string]*model.DailyCount{}
	var days []string
	for _, t := range tasks {
		day := t.CreatedAt.UTC().Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &model.DailyCount{Date: day}
			byDay[day] = d
			days = append(days, day)
		}
		d.Created++
		if t.IsCompleted {
			d.Completed++
		}
	}
	sort.Strings(days)
	out := make([]model.DailyCount, 0, len(days))
	for _, day := range days {
		out = append(out, *byDay[day])
	}
	return out, nil
}

// RecentActivity はsince以降に作成・更新されたタスクを新しい順に返す。
func (r *taskRepo) RecentActivity(_ context.Context, userID string, since time.Time, limit int) ([]model.Activity, error) {
	tasks := r.store().filter(func(t *model.Task) bool {
		return t.UserID == userID && (!t.CreatedAt.Before(since) || !t.UpdatedAt.Before(since))
	})
	activities := make([]model.Activity, 0, len(tasks))
	for _, t := range tasks {
		activities = append(activities, model.NewActivity(t.ID, t.Title, t.CreatedAt, t.UpdatedAt))
	}
	sort.Slice(activities, func(i, j int) bool {
		if c := activities[i].Date.Compare(activities[j].Date); c != 0 {
			return c > 0
		}
		return activities[i].TaskID > activities[j].TaskID
	})
	if limit > 0 && len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

// BulkUpdate はids中の所有タスクに更新を適用する。
func (r *taskRepo) BulkUpdate(_ context.Context, userID string, ids []string, u model.TaskUpdate) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range uniqueIDs(ids) {
		if t := s.owned(userID, id); t != nil {
			u.Apply(t)
			n++
		}
	}
	return n, nil
}

// BulkDelete はids中の所有タスクを削除する。
func (r *taskRepo) BulkDelete(_ context.Context, userID string, ids []string) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range uniqueIDs(ids) {
		if s.owned(userID, id) != nil {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// compile-time interface check
var (
	_ repository.UserRepository    = (*Store)(nil)
	_ repository.AccountRepository = (*Store)(nil)
	_ repository.Pinger            = (*Store)(nil)
	_ repository.TaskRepository    = (*taskRepo)(nil)
)
