package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
	"github.com/hitoshi/taskmanager/internal/repository/repotest"
)

func TestStore_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Store {
		return NewStore().Repositories()
	})
}

// 返却値を変更してもストア内部の状態に影響しないこと。
func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()
	now := time.Now().UTC()

	user := &model.User{Email: "copy@example.com", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	task := &model.Task{UserID: user.ID, Title: "original", Tags: []string{"a"}, DueDate: now, Priority: model.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := repos.Tasks.Create(ctx, task); err != nil {
		t.Fatalf("Create task error: %v", err)
	}

	got, _ := repos.Tasks.FindByID(ctx, user.ID, task.ID)
	got.Title = "mutated"
	got.Tags[0] = "mutated"

	again, _ := repos.Tasks.FindByID(ctx, user.ID, task.ID)
	if again.Title != "original" || again.Tags[0] != "a" {
		t.Errorf("store state leaked through returned value: %+v", again)
	}
}

// 同時トグルでも完了状態とcompletedAtの整合性が崩れないこと。
func TestStore_ConcurrentToggleKeepsInvariant(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()
	now := time.Now().UTC()

	user := &model.User{Email: "race@example.com", IsActive: true, CreatedAt: now, UpdatedAt: now}
	_ = repos.Users.Create(ctx, user)
	task := &model.Task{UserID: user.ID, Title: "t", DueDate: now, Priority: model.PriorityLow, CreatedAt: now, UpdatedAt: now}
	_ = repos.Tasks.Create(ctx, task)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repos.Tasks.ToggleCompletion(ctx, user.ID, task.ID, time.Now().UTC())
		}()
	}
	wg.Wait()

	got, _ := repos.Tasks.FindByID(ctx, user.ID, task.ID)
	if got.IsCompleted {
		t.Error("50 toggles should leave the task incomplete")
	}
	if got.IsCompleted != (got.CompletedAt != nil) {
		t.Errorf("isCompleted=%v but completedAt=%v", got.IsCompleted, got.CompletedAt)
	}
}

func TestStore_BulkDeleteIgnoresDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()
	now := time.Now().UTC()

	user := &model.User{Email: "dup-ids@example.com", IsActive: true, CreatedAt: now, UpdatedAt: now}
	_ = repos.Users.Create(ctx, user)
	task := &model.Task{UserID: user.ID, Title: "t", DueDate: now, Priority: model.PriorityLow, CreatedAt: now, UpdatedAt: now}
	_ = repos.Tasks.Create(ctx, task)

	n, err := repos.Tasks.BulkDelete(ctx, user.ID, []string{task.ID, task.ID})
	if err != nil || n != 1 {
		t.Errorf("BulkDelete = %d, %v; want 1", n, err)
	}
}
