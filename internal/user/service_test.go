package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
	"github.com/hitoshi/taskmanager/internal/repository/memory"
)

var fixedNow = time.Date(2025, 6, 15, 15, 30, 0, 0, time.UTC)

// --- モック ---

type plainComparer struct{}

func (plainComparer) Compare(hash, password string) bool {
	return hash == "hashed:"+password
}

type mockAccountRepo struct {
	deleteAccountFn func(ctx context.Context, userID string) (int64, error)
}

func (m *mockAccountRepo) DeleteAccount(ctx context.Context, userID string) (int64, error) {
	return m.deleteAccountFn(ctx, userID)
}

type fixture struct {
	repos repository.Store
	svc   *Service
	user  *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memory.NewStore().Repositories()
	user := &model.User{
		Email:        "owner@example.com",
		PasswordHash: "hashed:secret1",
		DisplayName:  "owner",
		IsActive:     true,
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	}
	if err := repos.Users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	svc := NewService(repos.Users, repos.Tasks, repos.Accounts, plainComparer{})
	svc.Now = func() time.Time { return fixedNow }
	return &fixture{repos: repos, svc: svc, user: user}
}

func (f *fixture) addTask(t *testing.T, userID, title string, createdAt, updatedAt time.Time, completed bool) *model.Task {
	t.Helper()
	task := &model.Task{
		UserID:      userID,
		Title:       title,
		DueDate:     fixedNow.Add(48 * time.Hour),
		Priority:    model.PriorityMedium,
		IsCompleted: completed,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
	if completed {
		at := updatedAt
		task.CompletedAt = &at
	}
	if err := f.repos.Tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	return task
}

func daysAgo(n int) time.Time {
	return fixedNow.AddDate(0, 0, -n)
}

// --- Stats ---

func TestService_Stats(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, f.user.ID, "today-done", fixedNow, fixedNow, true)
	f.addTask(t, f.user.ID, "today-open", fixedNow.Add(-time.Hour), fixedNow.Add(-time.Hour), false)
	f.addTask(t, f.user.ID, "three-days", daysAgo(3), daysAgo(3), false)
	f.addTask(t, f.user.ID, "twenty-days", daysAgo(20), daysAgo(20), true)
	f.addTask(t, f.user.ID, "old", daysAgo(40), daysAgo(40), false)
	f.addTask(t, "someone-else", "foreign", fixedNow, fixedNow, true)

	stats, err := f.svc.Stats(context.Background(), f.user.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Counts.Total != 5 || stats.Counts.Completed != 2 || stats.Counts.Pending() != 3 {
		t.Errorf("unexpected counts: %+v", stats.Counts)
	}
	if stats.RecentTasks != 4 {
		t.Errorf("expected 4 recent tasks, got %d", stats.RecentTasks)
	}
	if stats.CompletionRate != 40 {
		t.Errorf("expected completion rate 40, got %v", stats.CompletionRate)
	}

	if len(stats.Daily) != DailyStatsDays {
		t.Fatalf("expected %d daily entries, got %d", DailyStatsDays, len(stats.Daily))
	}
	if stats.Daily[0].Date != "2025-06-09" || stats.Daily[6].Date != "2025-06-15" {
		t.Errorf("unexpected date range: %s .. %s", stats.Daily[0].Date, stats.Daily[6].Date)
	}
	today := stats.Daily[6]
	if today.Created != 2 || today.Completed != 1 {
		t.Errorf("unexpected today entry: %+v", today)
	}
	if d := stats.Daily[3]; d.Date != "2025-06-12" || d.Created != 1 || d.Completed != 0 {
		t.Errorf("unexpected entry for three days ago: %+v", d)
	}
	if d := stats.Daily[1]; d.Created != 0 || d.Completed != 0 {
		t.Errorf("expected zero-filled entry, got %+v", d)
	}
}

func TestService_Stats_NoTasks(t *testing.T) {
	f := newFixture(t)
	stats, err := f.svc.Stats(context.Background(), f.user.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.CompletionRate != 0 || stats.RecentTasks != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
	for _, d := range stats.Daily {
		if d.Created != 0 || d.Completed != 0 {
			t.Errorf("expected zero entry, got %+v", d)
		}
	}
}

// --- Activity ---

func TestService_Activity(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, f.user.ID, "created-only", daysAgo(2), daysAgo(2), false)
	f.addTask(t, f.user.ID, "edited", daysAgo(10), daysAgo(1), false)
	f.addTask(t, f.user.ID, "stale", daysAgo(60), daysAgo(45), false)

	activity, err := f.svc.Activity(context.Background(), f.user.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(activity) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(activity))
	}
	if activity[0].Title != "edited" || activity[0].Action != model.ActivityUpdated || !activity[0].Date.Equal(daysAgo(1)) {
		t.Errorf("unexpected first activity: %+v", activity[0])
	}
	if activity[1].Title != "created-only" || activity[1].Action != model.ActivityCreated {
		t.Errorf("unexpected second activity: %+v", activity[1])
	}

	activity, err = f.svc.Activity(context.Background(), f.user.ID, "90")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(activity) != 3 {
		t.Errorf("expected 3 activities within 90 days, got %d", len(activity))
	}
}

func TestService_Activity_LimitAndValidation(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < ActivityLimit+5; i++ {
		at := fixedNow.Add(-time.Duration(i) * time.Minute)
		f.addTask(t, f.user.ID, "bulk", at, at, false)
	}

	activity, err := f.svc.Activity(context.Background(), f.user.ID, "30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(activity) != ActivityLimit {
		t.Errorf("expected %d activities, got %d", ActivityLimit, len(activity))
	}

	for _, days := range []string{"0", "366", "abc"} {
		_, err := f.svc.Activity(context.Background(), f.user.ID, days)
		if model.KindOf(err) != model.KindValidation {
			t.Errorf("days=%q: expected validation error, got %v", days, err)
		}
	}
}

// --- DeleteAccount ---

func TestService_DeleteAccount(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, f.user.ID, "mine", fixedNow, fixedNow, false)
	foreign := f.addTask(t, "someone-else", "theirs", fixedNow, fixedNow, false)
	ctx := context.Background()

	if err := f.svc.DeleteAccount(ctx, f.user.ID, "wrong"); !errors.Is(err, model.ErrWrongAccountPassword) {
		t.Fatalf("expected ErrWrongAccountPassword, got %v", err)
	}
	if u, _ := f.repos.Users.FindByID(ctx, f.user.ID); u == nil {
		t.Fatal("user deleted despite wrong password")
	}

	if err := f.svc.DeleteAccount(ctx, f.user.ID, "secret1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u, _ := f.repos.Users.FindByID(ctx, f.user.ID); u != nil {
		t.Error("expected user to be deleted")
	}
	counts, _ := f.repos.Tasks.Counts(ctx, f.user.ID, fixedNow)
	if counts.Total != 0 {
		t.Errorf("expected owned tasks to be deleted, %d remain", counts.Total)
	}
	if got, _ := f.repos.Tasks.FindByID(ctx, "someone-else", foreign.ID); got == nil {
		t.Error("foreign task was deleted")
	}

	if err := f.svc.DeleteAccount(ctx, f.user.ID, "secret1"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound after deletion, got %v", err)
	}
}

func TestService_DeleteAccount_Errors(t *testing.T) {
	f := newFixture(t)
	f.svc.accounts = &mockAccountRepo{
		deleteAccountFn: func(context.Context, string) (int64, error) {
			return 0, errors.New("transaction aborted")
		},
	}

	err := f.svc.DeleteAccount(context.Background(), f.user.ID, "secret1")
	if model.KindOf(err) != model.KindInternal {
		t.Errorf("expected internal error, got %v", err)
	}

	err = f.svc.DeleteAccount(context.Background(), f.user.ID, "")
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}
