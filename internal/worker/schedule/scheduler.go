// Package schedule はcron式による定期ジョブの実行を提供する。
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job は定期実行されるジョブのインターフェース。
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler はrobfig/cronをラップし、ジョブの実行結果をログに記録する。
// 前回の実行が終わっていないジョブは重複して起動しない。
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	Timeout time.Duration // 1回の実行のタイムアウト（0は無制限）
}

// NewScheduler はUTCで動作するSchedulerを生成する。
func NewScheduler(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		Timeout: time.Minute,
	}
}

// Add はジョブを登録する。specは標準のcron式または"@every 5m"のような記述子。
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.logger.Info("定期ジョブを登録しました",
		slog.String("job", name),
		slog.String("schedule", spec),
	)
	return nil
}

// RunNow はジョブを即時に1回実行する。起動直後の初回実行に使う。
func (s *Scheduler) RunNow(name string, job Job) {
	s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("定期ジョブの実行に失敗しました",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("定期ジョブが完了しました",
		slog.String("job", name),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// Start はスケジューラを起動する。ブロックしない。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("スケジューラを開始しました")
}

// Stop は実行中のジョブをキャンセルし、終了を待ってから戻る。
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.logger.Info("スケジューラを停止しました")
}
