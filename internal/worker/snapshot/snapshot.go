// Package snapshot は全体統計のスナップショットジョブを提供する。
// ユーザー数と状態別のタスク数を集計し、メトリクスのゲージに反映する。
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
)

// UserCounter はユーザー数を返すインターフェース。
type UserCounter interface {
	Count(ctx context.Context) (int64, error)
}

// TaskCounter は全ユーザーのタスク件数を返すインターフェース。
type TaskCounter interface {
	GlobalCounts(ctx context.Context, now time.Time) (model.TaskCounts, error)
}

// Gauges はスナップショットの出力先。
type Gauges interface {
	SetUserCount(n int64)
	SetTaskCounts(c model.TaskCounts)
	RecordSnapshotFailure()
}

// Job は統計スナップショットジョブ。冪等で、何度実行しても最新の値で上書きするだけ。
type Job struct {
	users  UserCounter
	tasks  TaskCounter
	gauges Gauges
	logger *slog.Logger

	// Now は現在時刻の取得関数。期限切れ判定に使う。
	Now func() time.Time
}

// NewJob は新しいJobを生成する。
func NewJob(users UserCounter, tasks TaskCounter, gauges Gauges, logger *slog.Logger) *Job {
	return &Job{
		users:  users,
		tasks:  tasks,
		gauges: gauges,
		logger: logger,
		Now:    model.Now,
	}
}

// Run は集計を行いゲージを更新する。
// 集計に失敗した場合はゲージを更新せず、失敗回数のカウンタを増やす。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	users, err := j.users.Count(ctx)
	if err != nil {
		j.gauges.RecordSnapshotFailure()
		return fmt.Errorf("failed to count users: %w", err)
	}

	counts, err := j.tasks.GlobalCounts(ctx, j.Now())
	if err != nil {
		j.gauges.RecordSnapshotFailure()
		return fmt.Errorf("failed to count tasks: %w", err)
	}

	j.gauges.SetUserCount(users)
	j.gauges.SetTaskCounts(counts)

	j.logger.Info("統計スナップショットを更新しました",
		slog.Int64("users", users),
		slog.Int64("tasks", counts.Total),
		slog.Int64("completed", counts.Completed),
		slog.Int64("overdue", counts.Overdue),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
