package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"FlowChain/pkg/logger"
)

// Aggregator 在每次任务执行结束后重算工作流级状态与最终结果。
type Aggregator struct {
	store    Store
	producer Producer
	logger   *slog.Logger
}

// AggregatorOption 定义可选配置。
type AggregatorOption func(*Aggregator)

// WithAggregatorProducer 指定释放 blocked 任务后重新投递的队列。
// 轮询调度模式下无需配置，状态回写本身即可被再次扫描到。
func WithAggregatorProducer(producer Producer) AggregatorOption {
	return func(a *Aggregator) {
		a.producer = producer
	}
}

// WithAggregatorLogger 指定日志输出。
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator 构造 Aggregator。
func NewAggregator(store Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Recompute 基于任务快照重算工作流状态。
//
// 状态单调：已终态的工作流直接返回，不再参与计算。对同一快照的
// 重复调用产生相同的状态与最终结果文本。
func (a *Aggregator) Recompute(ctx context.Context, workflowID string) (*Workflow, error) {
	wf, err := a.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return wf, nil
	}

	tasks, err := a.store.ListTasks(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	stats := computeStats(tasks)

	if stats.Stable() {
		status := WorkflowCompleted
		if stats.Failed > 0 {
			status = WorkflowFailed
		}
		final, err := a.buildFinalResult(ctx, tasks, stats)
		if err != nil {
			return nil, err
		}
		if err := a.store.UpdateWorkflow(ctx, workflowID, status, final); err != nil {
			return nil, err
		}
		logger.Audit().Info("工作流到达终态",
			slog.String("workflow_id", workflowID),
			slog.String("status", string(status)),
			slog.Int("completed", stats.Completed),
			slog.Int("failed", stats.Failed),
		)
		wf.Status = status
		wf.FinalResult = final
		return wf, nil
	}

	if err := a.store.UpdateWorkflow(ctx, workflowID, WorkflowInProgress, ""); err != nil {
		return nil, err
	}
	wf.Status = WorkflowInProgress

	// 所有未终结任务都在 blocked 时没有任何任务会被再次调度，
	// 此处整体释放回 queued，由下一轮解析重新分类：依赖可能已经
	// 完成，也可能暴露出环或失败，交给 Resolver 判定。
	if stats.AllParked() {
		released, err := a.store.RequeueBlocked(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		a.logDebug("释放 blocked 任务",
			slog.String("workflow_id", workflowID),
			slog.Int("count", len(released)),
		)
		if a.producer != nil {
			for _, id := range released {
				if err := a.producer.Publish(ctx, id); err != nil {
					return nil, err
				}
			}
		}
	}
	return wf, nil
}

// buildFinalResult 生成人类可读的最终结果文本。
// 失败任务按 stepNumber 升序列出，保证同一快照下文本稳定。
func (a *Aggregator) buildFinalResult(ctx context.Context, tasks []*Task, stats Stats) (string, error) {
	if stats.Failed == 0 {
		return fmt.Sprintf("Workflow finished with %d task(s) completed.", stats.Completed), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow finished with %d task(s) completed and %d task(s) failed.",
		stats.Completed, stats.Failed)
	for _, task := range tasks {
		if task.Status != TaskFailed {
			continue
		}
		output := "no result recorded"
		result, err := a.store.GetResultByTask(ctx, task.ID)
		if err != nil {
			if !stdErrors.Is(err, ErrResultNotFound) {
				return "", err
			}
		} else {
			output = result.Data
		}
		fmt.Fprintf(&sb, " Task %s failed: %s", task.ID, output)
	}
	return sb.String(), nil
}

func (a *Aggregator) logDebug(msg string, attrs ...slog.Attr) {
	if a.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	a.logger.Debug(msg, args...)
}
