package snapshot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository/memory"
)

type mockGauges struct {
	users    int64
	counts   model.TaskCounts
	set      bool
	failures int
}

func (m *mockGauges) SetUserCount(n int64) {
	m.users = n
	m.set = true
}

func (m *mockGauges) SetTaskCounts(c model.TaskCounts) {
	m.counts = c
}

func (m *mockGauges) RecordSnapshotFailure() {
	m.failures++
}

type mockUserCounter struct {
	countFn func(ctx context.Context) (int64, error)
}

func (m *mockUserCounter) Count(ctx context.Context) (int64, error) {
	return m.countFn(ctx)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// TestJob_Run_UpdatesGauges は全ユーザーのタスク件数とユーザー数がゲージに反映されることを検証する。
func TestJob_Run_UpdatesGauges(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	for _, email := range []string{"a@example.com", "b@example.com"} {
		if err := repos.Users.Create(ctx, &model.User{Email: email, IsActive: true, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("create user failed: %v", err)
		}
	}
	tasks := []*model.Task{
		{UserID: "u1", Title: "past", DueDate: now.Add(-time.Hour), Priority: model.PriorityLow},
		{UserID: "u2", Title: "future", DueDate: now.Add(time.Hour), Priority: model.PriorityHigh},
		{UserID: "u2", Title: "done", DueDate: now.Add(-time.Hour), Priority: model.PriorityMedium, IsCompleted: true},
	}
	for _, task := range tasks {
		task.CreatedAt, task.UpdatedAt = now, now
		if err := repos.Tasks.Create(ctx, task); err != nil {
			t.Fatalf("create task failed: %v", err)
		}
	}

	var buf bytes.Buffer
	gauges := &mockGauges{}
	job := NewJob(repos.Users, repos.Tasks, gauges, newTestLogger(&buf))
	job.Now = func() time.Time { return now }

	if err := job.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gauges.users != 2 {
		t.Errorf("users = %d, want 2", gauges.users)
	}
	want := model.TaskCounts{Total: 3, Completed: 1, Overdue: 1}
	if gauges.counts != want {
		t.Errorf("counts = %+v, want %+v", gauges.counts, want)
	}
	if gauges.failures != 0 {
		t.Errorf("failures = %d, want 0", gauges.failures)
	}
}

// TestJob_Run_CountFailure は集計失敗時にゲージを更新せず失敗を記録することを検証する。
func TestJob_Run_CountFailure(t *testing.T) {
	repos := memory.NewStore().Repositories()
	users := &mockUserCounter{countFn: func(context.Context) (int64, error) {
		return 0, errors.New("server selection timeout")
	}}

	var buf bytes.Buffer
	gauges := &mockGauges{}
	job := NewJob(users, repos.Tasks, gauges, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if gauges.set {
		t.Error("gauges should not be updated on failure")
	}
	if gauges.failures != 1 {
		t.Errorf("failures = %d, want 1", gauges.failures)
	}
}
