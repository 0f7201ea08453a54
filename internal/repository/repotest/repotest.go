// Package repotest はリポジトリ実装が共通して満たすべき振る舞いのテストスイートを提供する。
// 各ストア実装のテストから Run を呼び出して使う。
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
)

// Factory は空のストアを生成する。テストケースごとに呼ばれる。
type Factory func(t *testing.T) repository.Store

// Run は全ケースを実行する。
func Run(t *testing.T, newStore Factory) {
	t.Run("ユーザー作成と検索", func(t *testing.T) { testUserCreateAndFind(t, newStore(t)) })
	t.Run("メールアドレス重複", func(t *testing.T) { testUserDuplicateEmail(t, newStore(t)) })
	t.Run("プロフィールとパスワード更新", func(t *testing.T) { testUserUpdates(t, newStore(t)) })
	t.Run("Googleアカウント連携", func(t *testing.T) { testUserLinkGoogle(t, newStore(t)) })
	t.Run("タスクの所有者スコープ", func(t *testing.T) { testTaskOwnership(t, newStore(t)) })
	t.Run("タスク一覧の絞り込みとソート", func(t *testing.T) { testTaskList(t, newStore(t)) })
	t.Run("部分更新と完了切り替え", func(t *testing.T) { testTaskUpdateAndToggle(t, newStore(t)) })
	t.Run("期限切れと期限間近", func(t *testing.T) { testTaskDue(t, newStore(t)) })
	t.Run("集計", func(t *testing.T) { testTaskAggregates(t, newStore(t)) })
	t.Run("一括操作", func(t *testing.T) { testTaskBulk(t, newStore(t)) })
	t.Run("アカウント削除", func(t *testing.T) { testDeleteAccount(t, newStore(t)) })
}

// baseTime はストア間で精度を揃えるためミリ秒に丸めたUTC時刻を返す。
func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func createUser(t *testing.T, s repository.Store, email string) *model.User {
	t.Helper()
	now := baseTime()
	u := &model.User{
		Email:        email,
		PasswordHash: "$2a$10$hash",
		DisplayName:  model.DefaultDisplayName(email),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("Users.Create(%s) error: %v", email, err)
	}
	if u.ID == "" {
		t.Fatal("Users.Create did not assign an ID")
	}
	return u
}

func createTask(t *testing.T, s repository.Store, userID string, mutate func(*model.Task)) *model.Task {
	t.Helper()
	now := baseTime()
	task := &model.Task{
		UserID:    userID,
		Title:     "task",
		DueDate:   now.Add(48 * time.Hour),
		Priority:  model.PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mutate != nil {
		mutate(task)
	}
	if err := s.Tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("Tasks.Create error: %v", err)
	}
	return task
}

func testUserCreateAndFind(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "alice@example.com")

	byEmail, err := s.Users.FindByEmail(ctx, "alice@example.com")
	if err != nil || byEmail == nil {
		t.Fatalf("FindByEmail = %v, %v", byEmail, err)
	}
	if byEmail.ID != u.ID || byEmail.PasswordHash != u.PasswordHash || !byEmail.IsActive {
		t.Errorf("FindByEmail returned %+v", byEmail)
	}

	byID, err := s.Users.FindByID(ctx, u.ID)
	if err != nil || byID == nil || byID.Email != u.Email {
		t.Fatalf("FindByID = %v, %v", byID, err)
	}

	missing, err := s.Users.FindByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("FindByEmail(missing) = %v, %v; want nil, nil", missing, err)
	}
	malformed, err := s.Users.FindByID(ctx, "not-an-id")
	if err != nil || malformed != nil {
		t.Errorf("FindByID(malformed) = %v, %v; want nil, nil", malformed, err)
	}

	u.GoogleID = "google-123"
	u.UpdatedAt = baseTime()
	if err := s.Users.Update(ctx, u); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	byGoogle, err := s.Users.FindByGoogleID(ctx, "google-123")
	if err != nil || byGoogle == nil || byGoogle.ID != u.ID {
		t.Errorf("FindByGoogleID = %v, %v", byGoogle, err)
	}
	if byGoogle != nil && byGoogle.PasswordHash != u.PasswordHash {
		t.Error("Update must not change the password hash")
	}

	n, err := s.Users.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1", n, err)
	}
}

func testUserDuplicateEmail(t *testing.T, s repository.Store) {
	createUser(t, s, "dup@example.com")
	now := baseTime()
	err := s.Users.Create(context.Background(), &model.User{
		Email: "dup@example.com", PasswordHash: "x", IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, repository.ErrDuplicateKey) {
		t.Errorf("Create(duplicate) error = %v, want ErrDuplicateKey", err)
	}
}

func testUserLinkGoogle(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "gina@example.com")
	other := createUser(t, s, "other@example.com")

	// 連携前に行われたプロフィール変更は、連携の書き込みで失われないこと
	name := "Renamed"
	if _, err := s.Users.UpdateProfile(ctx, u.ID, model.ProfilePatch{DisplayName: &name}, baseTime()); err != nil {
		t.Fatalf("UpdateProfile error: %v", err)
	}

	at := baseTime().Add(time.Minute)
	link := model.GoogleLink{GoogleID: "g-gina", Avatar: "https://example.com/gina.png"}
	if err := s.Users.LinkGoogle(ctx, u.ID, link, at); err != nil {
		t.Fatalf("LinkGoogle error: %v", err)
	}

	got, _ := s.Users.FindByGoogleID(ctx, "g-gina")
	if got == nil || got.ID != u.ID {
		t.Fatalf("FindByGoogleID after link = %+v", got)
	}
	if got.DisplayName != "Renamed" || got.Avatar != link.Avatar || got.Email != u.Email {
		t.Errorf("LinkGoogle changed unrelated fields: %+v", got)
	}
	if got.PasswordHash != u.PasswordHash || !got.IsActive {
		t.Errorf("LinkGoogle must keep password hash and active flag: %+v", got)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(at) || !got.UpdatedAt.Equal(at) {
		t.Errorf("lastLogin/updatedAt = %v/%v, want %v", got.LastLogin, got.UpdatedAt, at)
	}

	err := s.Users.LinkGoogle(ctx, other.ID, model.GoogleLink{GoogleID: "g-gina"}, at)
	if !errors.Is(err, repository.ErrDuplicateKey) {
		t.Errorf("LinkGoogle(duplicate googleId) error = %v, want ErrDuplicateKey", err)
	}
}

func testUserUpdates(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "bob@example.com")
	later := u.UpdatedAt.Add(time.Minute)

	name := "Bobby"
	updated, err := s.Users.UpdateProfile(ctx, u.ID, model.ProfilePatch{DisplayName: &name}, later)
	if err != nil || updated == nil {
		t.Fatalf("UpdateProfile = %v, %v", updated, err)
	}
	if updated.DisplayName != "Bobby" || updated.Avatar != "" || !updated.UpdatedAt.Equal(later) {
		t.Errorf("UpdateProfile returned %+v", updated)
	}

	if missing, err := s.Users.UpdateProfile(ctx, "not-an-id", model.ProfilePatch{DisplayName: &name}, later); err != nil || missing != nil {
		t.Errorf("UpdateProfile(missing) = %v, %v; want nil, nil", missing, err)
	}

	if err := s.Users.UpdatePassword(ctx, u.ID, "$2a$10$new", later); err != nil {
		t.Fatalf("UpdatePassword error: %v", err)
	}
	login := later.Add(time.Minute)
	if err := s.Users.UpdateLastLogin(ctx, u.ID, login); err != nil {
		t.Fatalf("UpdateLastLogin error: %v", err)
	}

	got, _ := s.Users.FindByID(ctx, u.ID)
	if got.PasswordHash != "$2a$10$new" {
		t.Errorf("PasswordHash = %q", got.PasswordHash)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(login) {
		t.Errorf("LastLogin = %v, want %v", got.LastLogin, login)
	}
}

func testTaskOwnership(t *testing.T, s repository.Store) {
	ctx := context.Background()
	alice := createUser(t, s, "alice@example.com")
	mallory := createUser(t, s, "mallory@example.com")
	task := createTask(t, s, alice.ID, func(tk *model.Task) {
		tk.Title = "secret"
		tk.Tags = []string{"a", "b"}
		tk.Attachments = []model.Attachment{{Name: "f.txt", URL: "https://example.com/f.txt", Size: 10}}
	})

	if !s.Tasks.ValidID(task.ID) {
		t.Errorf("ValidID(%q) = false", task.ID)
	}
	if s.Tasks.ValidID("zzz") {
		t.Error("ValidID(zzz) = true")
	}

	got, err := s.Tasks.FindByID(ctx, alice.ID, task.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = %v, %v", got, err)
	}
	if got.Title != "secret" || len(got.Tags) != 2 || len(got.Attachments) != 1 || got.Attachments[0].Size != 10 {
		t.Errorf("FindByID returned %+v", got)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) || !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Errorf("timestamps = %v / %v, want both %v", got.CreatedAt, got.UpdatedAt, task.CreatedAt)
	}

	if other, err := s.Tasks.FindByID(ctx, mallory.ID, task.ID); err != nil || other != nil {
		t.Errorf("FindByID(other owner) = %v, %v; want nil, nil", other, err)
	}
	title := "hacked"
	if other, err := s.Tasks.Update(ctx, mallory.ID, task.ID, model.TaskUpdate{Title: &title, UpdatedAt: baseTime()}); err != nil || other != nil {
		t.Errorf("Update(other owner) = %v, %v; want nil, nil", other, err)
	}
	if ok, err := s.Tasks.Delete(ctx, mallory.ID, task.ID); err != nil || ok {
		t.Errorf("Delete(other owner) = %v, %v; want false, nil", ok, err)
	}
	if ok, err := s.Tasks.Delete(ctx, alice.ID, task.ID); err != nil || !ok {
		t.Errorf("Delete(owner) = %v, %v; want true, nil", ok, err)
	}
	if gone, _ := s.Tasks.FindByID(ctx, alice.ID, task.ID); gone != nil {
		t.Error("task still present after Delete")
	}
}

func testTaskList(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "list@example.com")
	other := createUser(t, s, "other@example.com")
	base := baseTime()

	createTask(t, s, u.ID, func(tk *model.Task) {
		tk.Title, tk.Priority, tk.Category = "b-high", model.PriorityHigh, "work"
		tk.CreatedAt, tk.UpdatedAt = base.Add(-3*time.Hour), base.Add(-3*time.Hour)
	})
	createTask(t, s, u.ID, func(tk *model.Task) {
		tk.Title, tk.Priority, tk.Category = "a-low", model.PriorityLow, "home"
		tk.CreatedAt, tk.UpdatedAt = base.Add(-2*time.Hour), base.Add(-2*time.Hour)
	})
	createTask(t, s, u.ID, func(tk *model.Task) {
		tk.Title, tk.Priority, tk.Category = "c-medium", model.PriorityMedium, "work"
		tk.IsCompleted = true
		at := base.Add(-time.Hour)
		tk.CompletedAt = &at
		tk.CreatedAt, tk.UpdatedAt = base.Add(-time.Hour), base.Add(-time.Hour)
	})
	createTask(t, s, other.ID, nil)

	all, total, err := s.Tasks.List(ctx, u.ID, repository.TaskListQuery{SortBy: repository.SortByCreatedAt, Descending: true, Limit: 20})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("List total=%d len=%d, want 3/3", total, len(all))
	}
	if all[0].Title != "c-medium" || all[2].Title != "b-high" {
		t.Errorf("createdAt desc order = %s, %s, %s", all[0].Title, all[1].Title, all[2].Title)
	}

	byPriority, _, err := s.Tasks.List(ctx, u.ID, repository.TaskListQuery{SortBy: repository.SortByPriority, Limit: 20})
	if err != nil {
		t.Fatalf("List(priority) error: %v", err)
	}
	if got := []model.Priority{byPriority[0].Priority, byPriority[1].Priority, byPriority[2].Priority}; got[0] != model.PriorityLow || got[1] != model.PriorityMedium || got[2] != model.PriorityHigh {
		t.Errorf("priority asc order = %v", got)
	}

	work := "work"
	pending := false
	filtered, total, err := s.Tasks.List(ctx, u.ID, repository.TaskListQuery{
		Filter: repository.TaskFilter{Category: &work, IsCompleted: &pending},
		SortBy: repository.SortByTitle,
		Limit:  20,
	})
	if err != nil {
		t.Fatalf("List(filtered) error: %v", err)
	}
	if total != 1 || len(filtered) != 1 || filtered[0].Title != "b-high" {
		t.Errorf("filtered = %d tasks (total %d)", len(filtered), total)
	}

	page2, total, err := s.Tasks.List(ctx, u.ID, repository.TaskListQuery{SortBy: repository.SortByTitle, Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("List(page 2) error: %v", err)
	}
	if total != 3 || len(page2) != 1 || page2[0].Title != "c-medium" {
		t.Errorf("page 2 = %d tasks (total %d)", len(page2), total)
	}
}

func testTaskUpdateAndToggle(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "toggle@example.com")
	task := createTask(t, s, u.ID, func(tk *model.Task) { tk.Description = "keep me" })

	at := task.CreatedAt.Add(time.Minute)
	done := true
	title := "renamed"
	updated, err := s.Tasks.Update(ctx, u.ID, task.ID, model.TaskUpdate{Title: &title, IsCompleted: &done, UpdatedAt: at})
	if err != nil || updated == nil {
		t.Fatalf("Update = %v, %v", updated, err)
	}
	if updated.Title != "renamed" || updated.Description != "keep me" {
		t.Errorf("Update changed unrelated fields: %+v", updated)
	}
	if !updated.IsCompleted || updated.CompletedAt == nil || !updated.CompletedAt.Equal(at) || !updated.UpdatedAt.Equal(at) {
		t.Errorf("Update completion = %v / %v / %v", updated.IsCompleted, updated.CompletedAt, updated.UpdatedAt)
	}

	at2 := at.Add(time.Minute)
	toggled, err := s.Tasks.ToggleCompletion(ctx, u.ID, task.ID, at2)
	if err != nil || toggled == nil {
		t.Fatalf("ToggleCompletion = %v, %v", toggled, err)
	}
	if toggled.IsCompleted || toggled.CompletedAt != nil {
		t.Errorf("after toggle: isCompleted=%v completedAt=%v", toggled.IsCompleted, toggled.CompletedAt)
	}

	at3 := at2.Add(time.Minute)
	toggled, err = s.Tasks.ToggleCompletion(ctx, u.ID, task.ID, at3)
	if err != nil || toggled == nil {
		t.Fatalf("ToggleCompletion = %v, %v", toggled, err)
	}
	if !toggled.IsCompleted || toggled.CompletedAt == nil || !toggled.CompletedAt.Equal(at3) {
		t.Errorf("after second toggle: isCompleted=%v completedAt=%v", toggled.IsCompleted, toggled.CompletedAt)
	}

	if missing, err := s.Tasks.ToggleCompletion(ctx, u.ID, "not-an-id", at3); err != nil || missing != nil {
		t.Errorf("ToggleCompletion(malformed) = %v, %v; want nil, nil", missing, err)
	}
}

func testTaskDue(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "due@example.com")
	now := baseTime()

	createTask(t, s, u.ID, func(tk *model.Task) { tk.Title, tk.DueDate = "late-2", now.Add(-time.Hour) })
	createTask(t, s, u.ID, func(tk *model.Task) { tk.Title, tk.DueDate = "late-1", now.Add(-48*time.Hour) })
	createTask(t, s, u.ID, func(tk *model.Task) {
		tk.Title, tk.DueDate, tk.IsCompleted = "late-done", now.Add(-time.Hour), true
		tk.CompletedAt = &now
	})
	createTask(t, s, u.ID, func(tk *model.Task) { tk.Title, tk.DueDate = "soon", now.Add(24 * time.Hour) })
	createTask(t, s, u.ID, func(tk *model.Task) { tk.Title, tk.DueDate = "later", now.Add(30 * 24 * time.Hour) })

	overdue, err := s.Tasks.ListOverdue(ctx, u.ID, now)
	if err != nil {
		t.Fatalf("ListOverdue error: %v", err)
	}
	if len(overdue) != 2 || overdue[0].Title != "late-1" || overdue[1].Title != "late-2" {
		t.Errorf("ListOverdue = %d tasks", len(overdue))
	}

	upcoming, err := s.Tasks.ListDueBetween(ctx, u.ID, now, now.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("ListDueBetween error: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].Title != "soon" {
		t.Errorf("ListDueBetween = %d tasks", len(upcoming))
	}
}

func testTaskAggregates(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "stats@example.com")
	now := baseTime()
	old := now.Add(-40 * 24 * time.Hour)

	createTask(t, s, u.ID, func(tk *model.Task) { tk.Priority, tk.Category = model.PriorityHigh, "work" })
	createTask(t, s, u.ID, func(tk *model.Task) {
		tk.Priority, tk.Category, tk.IsCompleted = model.PriorityHigh, "work", true
		tk.CompletedAt = &now
	})
	createTask(t, s, u.ID, func(tk *model.Task) {
		tk.Priority, tk.DueDate = model.PriorityLow, now.Add(-time.Hour)
		tk.CreatedAt, tk.UpdatedAt = old, old
	})

	counts, err := s.Tasks.Counts(ctx, u.ID, now)
	if err != nil {
		t.Fatalf("Counts error: %v", err)
	}
	if counts != (model.TaskCounts{Total: 3, Completed: 1, Overdue: 1}) {
		t.Errorf("Counts = %+v", counts)
	}

	global, err := s.Tasks.GlobalCounts(ctx, now)
	if err != nil || global.Total != 3 {
		t.Errorf("GlobalCounts = %+v, %v", global, err)
	}

	byPriority, err := s.Tasks.CountByPriority(ctx, u.ID)
	if err != nil {
		t.Fatalf("CountByPriority error: %v", err)
	}
	if got := groupMap(byPriority); got["high"] != 2 || got["low"] != 1 || len(got) != 2 {
		t.Errorf("CountByPriority = %v", got)
	}

	byCategory, err := s.Tasks.CountByCategory(ctx, u.ID)
	if err != nil {
		t.Fatalf("CountByCategory error: %v", err)
	}
	if got := groupMap(byCategory); got["work"] != 2 || len(got) != 1 {
		t.Errorf("CountByCategory = %v", got)
	}

	recent, err := s.Tasks.CountCreatedSince(ctx, u.ID, now.Add(-30*24*time.Hour))
	if err != nil || recent != 2 {
		t.Errorf("CountCreatedSince = %d, %v; want 2", recent, err)
	}

	daily, err := s.Tasks.DailyCreated(ctx, u.ID, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DailyCreated error: %v", err)
	}
	if len(daily) != 1 || daily[0].Date != now.Format("2006-01-02") || daily[0].Created != 2 || daily[0].Completed != 1 {
		t.Errorf("DailyCreated = %+v", daily)
	}

	activity, err := s.Tasks.RecentActivity(ctx, u.ID, now.Add(-7*24*time.Hour), 50)
	if err != nil {
		t.Fatalf("RecentActivity error: %v", err)
	}
	if len(activity) != 2 {
		t.Fatalf("RecentActivity = %d entries, want 2", len(activity))
	}
	for _, a := range activity {
		if a.Action != model.ActivityCreated {
			t.Errorf("activity %s action = %s, want created", a.TaskID, a.Action)
		}
	}
	limited, err := s.Tasks.RecentActivity(ctx, u.ID, now.Add(-7*24*time.Hour), 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("RecentActivity(limit 1) = %d, %v", len(limited), err)
	}
}

func groupMap(groups []model.GroupCount) map[string]int64 {
	m := make(map[string]int64, len(groups))
	for _, g := range groups {
		m[g.Key] = g.Count
	}
	return m
}

func testTaskBulk(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "bulk@example.com")
	other := createUser(t, s, "bulk-other@example.com")
	a := createTask(t, s, u.ID, nil)
	b := createTask(t, s, u.ID, nil)
	foreign := createTask(t, s, other.ID, nil)

	high := model.PriorityHigh
	done := true
	at := baseTime().Add(time.Minute)
	n, err := s.Tasks.BulkUpdate(ctx, u.ID, []string{a.ID, b.ID, foreign.ID}, model.TaskUpdate{Priority: &high, IsCompleted: &done, UpdatedAt: at})
	if err != nil || n != 2 {
		t.Fatalf("BulkUpdate = %d, %v; want 2", n, err)
	}
	got, _ := s.Tasks.FindByID(ctx, u.ID, a.ID)
	if got.Priority != model.PriorityHigh || !got.IsCompleted || got.CompletedAt == nil {
		t.Errorf("bulk-updated task = %+v", got)
	}
	untouched, _ := s.Tasks.FindByID(ctx, other.ID, foreign.ID)
	if untouched.Priority != model.PriorityMedium || untouched.IsCompleted {
		t.Errorf("foreign task was modified: %+v", untouched)
	}

	n, err = s.Tasks.BulkDelete(ctx, u.ID, []string{a.ID, foreign.ID})
	if err != nil || n != 1 {
		t.Fatalf("BulkDelete = %d, %v; want 1", n, err)
	}
	if still, _ := s.Tasks.FindByID(ctx, other.ID, foreign.ID); still == nil {
		t.Error("foreign task was deleted")
	}
}

func testDeleteAccount(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := createUser(t, s, "gone@example.com")
	keep := createUser(t, s, "keep@example.com")
	createTask(t, s, u.ID, nil)
	createTask(t, s, u.ID, nil)
	kept := createTask(t, s, keep.ID, nil)

	n, err := s.Accounts.DeleteAccount(ctx, u.ID)
	if err != nil || n != 2 {
		t.Fatalf("DeleteAccount = %d, %v; want 2", n, err)
	}
	if gone, _ := s.Users.FindByID(ctx, u.ID); gone != nil {
		t.Error("user still present after DeleteAccount")
	}
	if c, _ := s.Tasks.Counts(ctx, u.ID, baseTime()); c.Total != 0 {
		t.Errorf("tasks left after DeleteAccount: %d", c.Total)
	}
	if still, _ := s.Tasks.FindByID(ctx, keep.ID, kept.ID); still == nil {
		t.Error("another user's task was deleted")
	}
}
