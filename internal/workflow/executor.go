package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "FlowChain/internal/errors"
	"FlowChain/internal/job"
	"FlowChain/internal/observability/alerting"
	"FlowChain/pkg/logger"
)

// Executor 驱动单个任务的状态机：解析依赖、调用 Job、落盘结果，
// 并在每个分支结束后触发所属工作流的重算。
type Executor struct {
	store      Store
	registry   *job.Registry
	resolver   *Resolver
	aggregator *Aggregator
	logger     *slog.Logger
	alerter    alerting.Dispatcher
	recovery   RecoveryHandler
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*Executor)

// WithExecutorLogger 指定日志输出。
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ExecutorOption {
	return func(e *Executor) {
		e.alerter = dispatcher
	}
}

// WithRecoveryHandler 配置 Job 失败时的补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ExecutorOption {
	return func(e *Executor) {
		e.recovery = handler
	}
}

// NewExecutor 构造 Executor。
func NewExecutor(store Store, registry *job.Registry, aggregator *Aggregator, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:      store,
		registry:   registry,
		resolver:   NewResolver(store),
		aggregator: aggregator,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute 处理一个任务。
//
// 任务级失败（依赖缺失、环、依赖失败、未知任务类型、Job 报错）一律
// 记录为数据：失败结果加 failed 状态，绝不向上抛出。只有存储故障
// 向调用方传播，由调度循环记录并继续处理下一个任务。
func (e *Executor) Execute(ctx context.Context, taskID string) error {
	if e.store == nil || e.registry == nil || e.aggregator == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "执行器未初始化")
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) {
			e.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		return err
	}
	if task.Status != TaskQueued {
		// 终态任务或已被其他执行者处理的任务直接跳过。
		e.logDebug("跳过任务",
			slog.String("task_id", taskID),
			slog.String("status", string(task.Status)),
		)
		return nil
	}

	decision, err := e.resolver.Resolve(ctx, task)
	if err != nil {
		e.emitAlert(ctx, task, xerrors.CodeOf(err), err, "resolve")
		return err
	}

	switch decision.Outcome {
	case OutcomeAutoFailed:
		if err := e.autoFail(ctx, task, decision); err != nil {
			return err
		}
	case OutcomeBlocked:
		if err := e.store.MarkTaskBlocked(ctx, task.ID); err != nil {
			return err
		}
		e.logDebug("任务等待依赖",
			slog.String("task_id", task.ID),
			slog.Int("step", task.StepNumber),
		)
	case OutcomeRunnable:
		if err := e.runJob(ctx, task); err != nil {
			return err
		}
	}

	_, err = e.aggregator.Recompute(ctx, task.WorkflowID)
	return err
}

// autoFail 落盘解析器判定的失败：合成错误结果，跳过 Job 调用。
func (e *Executor) autoFail(ctx context.Context, task *Task, decision Decision) error {
	result := &Result{
		ID:      uuid.NewString(),
		TaskID:  task.ID,
		Data:    decision.Reason,
		IsError: true,
	}
	if err := e.store.CreateResult(ctx, result); err != nil {
		return err
	}
	if err := e.store.MarkTaskFailed(ctx, task.ID, result.ID); err != nil {
		return err
	}
	logger.Audit().Warn("任务自动失败",
		slog.String("task_id", task.ID),
		slog.String("workflow_id", task.WorkflowID),
		slog.Int("step", task.StepNumber),
		slog.String("error_code", string(decision.Code)),
		slog.String("reason", decision.Reason),
	)
	e.emitAlert(ctx, task, decision.Code, stdErrors.New(decision.Reason), "auto_fail")
	return nil
}

// runJob 领取任务并调用注册的 Job。
func (e *Executor) runJob(ctx context.Context, task *Task) error {
	claimed, err := e.store.ClaimTask(ctx, task.ID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			// 另一个执行者抢先领取，本次放弃。
			e.logDebug("任务已被领取", slog.String("task_id", task.ID))
			return nil
		}
		return err
	}

	j, err := e.registry.Lookup(claimed.TaskType)
	if err != nil {
		// 未注册的任务类型按执行失败处理，对任务致命，对进程无害。
		return e.failJob(ctx, claimed, err)
	}

	output, jobErr := j.Run(ctx, job.View{
		TaskID:     claimed.ID,
		WorkflowID: claimed.WorkflowID,
		TaskType:   claimed.TaskType,
		StepNumber: claimed.StepNumber,
		Payload:    clonePayload(claimed.Payload),
	})
	if jobErr != nil {
		return e.failJob(ctx, claimed, jobErr)
	}

	result := &Result{
		ID:     uuid.NewString(),
		TaskID: claimed.ID,
		Data:   output,
	}
	if err := e.store.CreateResult(ctx, result); err != nil {
		return err
	}
	if err := e.store.MarkTaskCompleted(ctx, claimed.ID, result.ID); err != nil {
		return err
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", claimed.ID),
		slog.String("workflow_id", claimed.WorkflowID),
		slog.Int("step", claimed.StepNumber),
		slog.String("task_type", claimed.TaskType),
	)
	return nil
}

// failJob 把 Job 的失败负载落盘为错误结果。任务不做自动重试，
// 但配置了补偿策略时优先尝试降级。
func (e *Executor) failJob(ctx context.Context, task *Task, jobErr error) error {
	if e.recovery != nil {
		recovery, recoverErr := e.recovery.Recover(ctx, task, jobErr)
		if recoverErr != nil {
			logger.L().Warn("补偿策略执行失败",
				slog.Any("error", recoverErr),
				slog.String("task_id", task.ID),
			)
		} else if recovery != nil {
			return e.completeDegraded(ctx, task, recovery.Output)
		}
	}

	code := xerrors.CodeOf(jobErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobExecutionFailed
	}
	result := &Result{
		ID:      uuid.NewString(),
		TaskID:  task.ID,
		Data:    jobErr.Error(),
		IsError: true,
	}
	if err := e.store.CreateResult(ctx, result); err != nil {
		return err
	}
	if err := e.store.MarkTaskFailed(ctx, task.ID, result.ID); err != nil {
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("workflow_id", task.WorkflowID),
		slog.Int("step", task.StepNumber),
		slog.String("task_type", task.TaskType),
		slog.String("error", jobErr.Error()),
		slog.String("error_code", string(code)),
	)
	e.emitAlert(ctx, task, code, jobErr, "job")
	return nil
}

// completeDegraded 以补偿策略给出的输出按成功落盘。
func (e *Executor) completeDegraded(ctx context.Context, task *Task, output string) error {
	result := &Result{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Data:   output,
	}
	if err := e.store.CreateResult(ctx, result); err != nil {
		return err
	}
	if err := e.store.MarkTaskCompleted(ctx, task.ID, result.ID); err != nil {
		return err
	}
	logger.Audit().Info("任务降级完成",
		slog.String("task_id", task.ID),
		slog.String("workflow_id", task.WorkflowID),
		slog.Int("step", task.StepNumber),
		slog.String("task_type", task.TaskType),
	)
	return nil
}

func (e *Executor) logDebug(msg string, attrs ...slog.Attr) {
	if e.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	e.logger.Debug(msg, args...)
}

func (e *Executor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if e == nil || e.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		WorkflowID: task.WorkflowID,
		TaskID:     task.ID,
		StepNumber: task.StepNumber,
		Metadata:   map[string]string{"stage": stage},
		OccurredAt: time.Now(),
	}
	if err := e.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
