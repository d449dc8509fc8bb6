package workflow

import (
	"context"
	"log/slog"
	"time"

	xerrors "FlowChain/internal/errors"
	"FlowChain/pkg/logger"
)

// Scheduler 反复挑选一个 queued 任务并交给执行器处理，自身不含
// 任何业务逻辑。两种驱动方式：
//
//   - 队列模式：从 Consumer 消费任务 ID，提交与解除阻塞时由
//     Producer 投递；
//   - 轮询模式：按固定间隔扫描存储中的 queued 任务，空转时休眠。
//
// 同一任务不会被并发执行：存储层的条件领取保证至多一个执行者。
type Scheduler struct {
	executor     *Executor
	store        Store
	consumer     Consumer
	workerCount  int
	pollInterval time.Duration
	logger       *slog.Logger
}

// SchedulerOption 定义可选配置。
type SchedulerOption func(*Scheduler)

// WithWorkerCount 设置消费协程数量（仅队列模式生效）。
func WithWorkerCount(workers int) SchedulerOption {
	return func(s *Scheduler) {
		if workers > 0 {
			s.workerCount = workers
		}
	}
}

// WithPollInterval 设置轮询模式的空转休眠间隔。
func WithPollInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithSchedulerLogger 指定日志输出。
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler 构造调度器。consumer 为 nil 时使用轮询模式。
func NewScheduler(executor *Executor, store Store, consumer Consumer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		executor:     executor,
		store:        store,
		consumer:     consumer,
		workerCount:  1,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动调度循环，直到上下文取消。
func (s *Scheduler) Start(ctx context.Context) error {
	if s.executor == nil || s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "调度器未初始化")
	}
	if s.consumer != nil {
		return s.consumer.Consume(ctx, s.workerCount, s.handle)
	}
	return s.poll(ctx)
}

// handle 是队列模式的消费回调。存储故障向队列驱动返回以便重投，
// 其余情况执行器已经把失败记录为数据。
func (s *Scheduler) handle(ctx context.Context, taskID string) error {
	if err := s.executor.Execute(ctx, taskID); err != nil {
		s.log().Error("任务处理失败",
			slog.Any("error", err),
			slog.String("task_id", taskID),
		)
		return err
	}
	return nil
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logger.L()
}

// poll 周期性扫描 queued 任务。一次处理一个任务，处理完立即扫描
// 下一个；扫描为空时休眠一个间隔再醒来。
func (s *Scheduler) poll(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		tasks, err := s.store.ListQueued(ctx, 1)
		if err != nil {
			s.log().Error("扫描待执行任务失败", slog.Any("error", err))
			tasks = nil
		}
		if len(tasks) > 0 {
			for _, task := range tasks {
				if err := s.executor.Execute(ctx, task.ID); err != nil {
					// 存储故障只影响当前任务，记录后继续。
					s.log().Error("任务处理失败",
						slog.Any("error", err),
						slog.String("task_id", task.ID),
					)
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
