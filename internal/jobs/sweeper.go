// Package jobs 包含后台定时任务。
package jobs

import (
	"context"
	"fmt"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/internal/repository"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/metrics"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper 把长时间停留在 PROCESSING 的记录置为 FAILED，例如进程在处理中途退出。
// 它只修改记录状态，不触碰已写入的向量。
type Sweeper struct {
	files      repository.FileRepository
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	scheduler  gocron.Scheduler
}

// NewSweeper 创建清理任务。
func NewSweeper(files repository.FileRepository, cfg config.JobsConfig) *Sweeper {
	return &Sweeper{
		files:      files,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

// Sweep 执行一次清理，返回被置为 FAILED 的记录数。
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.staleAfter)
	n, err := s.files.MarkStaleFailed(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("清理超时记录失败: %w", err)
	}
	if n > 0 {
		log.Warnf("[Sweeper] %d 条记录在 %s 前进入 PROCESSING 且未完成，已置为 FAILED", n, before.Format(time.RFC3339))
		metrics.StaleRecordsSwept.Add(float64(n))
	}
	return n, nil
}

// Start 按 interval 周期运行清理，启动时立即执行一次。
func (s *Sweeper) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func(ctx context.Context) {
			if _, err := s.Sweep(ctx); err != nil {
				log.Error("[Sweeper] 执行失败", err)
			}
		}, ctx),
		gocron.WithName("stale-file-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return err
	}

	scheduler.Start()
	s.scheduler = scheduler
	log.Infof("[Sweeper] 已启动, 间隔: %s, 超时阈值: %s", s.interval, s.staleAfter)
	return nil
}

// Stop 停止调度并等待正在运行的任务结束。
func (s *Sweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}
