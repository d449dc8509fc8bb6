package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"

	xerrors "FlowChain/internal/errors"
)

// Outcome 是依赖解析的分类结果。
type Outcome string

const (
	OutcomeRunnable   Outcome = "runnable"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeAutoFailed Outcome = "auto_failed"
)

// Decision 携带解析结论。AutoFailed 时 Reason 与 Code 说明失败原因，
// 由调用方写入任务的错误结果。
type Decision struct {
	Outcome Outcome
	Reason  string
	Code    xerrors.Code
}

// Resolver 根据任务的 dependsOn 间接引用判定任务是否可执行。
// Resolver 只做分类，不修改任何状态；状态写入由执行器负责。
type Resolver struct {
	store Store
}

// NewResolver 构造 Resolver。
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve 对单个任务做依赖判定。
//
// 环检测必须先于依赖状态判断：互相依赖的两个任务彼此看起来都在
// "等待"，若先看状态会永远 blocked。检测方式是沿 dependsOn 链逐跳
// 查找，已访问过的 stepNumber 再次出现即为环。链长天然受工作流内
// 任务数约束，访问集合保证遍历必然终止。
//
// 返回 error 仅代表存储故障；业务上的失败以 AutoFailed 分类表达。
func (r *Resolver) Resolve(ctx context.Context, task *Task) (Decision, error) {
	if task == nil {
		return Decision{}, xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.DependsOn == nil {
		return Decision{Outcome: OutcomeRunnable}, nil
	}

	dep, err := r.store.GetTaskByStep(ctx, task.WorkflowID, *task.DependsOn)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) {
			return Decision{
				Outcome: OutcomeAutoFailed,
				Reason:  fmt.Sprintf("dependency task not found: step %d", *task.DependsOn),
				Code:    CodeDependencyNotFound,
			}, nil
		}
		return Decision{}, err
	}

	cyclic, err := r.detectCycle(ctx, task)
	if err != nil {
		return Decision{}, err
	}
	if cyclic {
		return Decision{
			Outcome: OutcomeAutoFailed,
			Reason:  fmt.Sprintf("cycle detected in dependency chain starting at step %d", task.StepNumber),
			Code:    CodeCycleDetected,
		}, nil
	}

	switch dep.Status {
	case TaskCompleted:
		return Decision{Outcome: OutcomeRunnable}, nil
	case TaskFailed:
		return Decision{
			Outcome: OutcomeAutoFailed,
			Reason:  fmt.Sprintf("dependency task failed: step %d", dep.StepNumber),
			Code:    CodeDependencyFailed,
		}, nil
	case TaskQueued, TaskInProgress, TaskBlocked:
		return Decision{Outcome: OutcomeBlocked}, nil
	default:
		return Decision{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("依赖任务状态非法: %s", dep.Status))
	}
}

// detectCycle 沿 dependsOn 链逐跳展开，访问集合记录已见过的 stepNumber。
func (r *Resolver) detectCycle(ctx context.Context, task *Task) (bool, error) {
	visited := map[int]struct{}{task.StepNumber: {}}
	current := task
	for current.DependsOn != nil {
		next := *current.DependsOn
		if _, seen := visited[next]; seen {
			return true, nil
		}
		dep, err := r.store.GetTaskByStep(ctx, current.WorkflowID, next)
		if err != nil {
			if stdErrors.Is(err, ErrTaskNotFound) {
				// 链上的断点不是环；缺失依赖由调用方按
				// DEPENDENCY_NOT_FOUND 处理。
				return false, nil
			}
			return false, err
		}
		visited[next] = struct{}{}
		current = dep
	}
	return false, nil
}
