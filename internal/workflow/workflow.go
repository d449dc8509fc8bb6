package workflow

import (
	xerrors "FlowChain/internal/errors"
)

// WorkflowStatus 表示工作流在生命周期中的状态。
type WorkflowStatus string

const (
	WorkflowInitial    WorkflowStatus = "initial"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
)

// Terminal 判断工作流是否已经到达终态。终态之后状态不再回退。
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// TaskStatus 表示任务在生命周期中的状态。
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// Terminal 判断任务是否已经到达终态。
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Workflow 描述一次客户端提交的有序任务集合。
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      WorkflowStatus `json:"status"`
	FinalResult string         `json:"final_result,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Task 是调度器操作的最小工作单元。
// DependsOn 通过 stepNumber 间接引用前置任务，避免在内存中
// 构造可能成环的对象图；依赖链由 Resolver 按查找函数展开。
type Task struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	StepNumber int            `json:"step_number"`
	TaskType   string         `json:"task_type"`
	Status     TaskStatus     `json:"status"`
	DependsOn  *int           `json:"depends_on,omitempty"`
	Progress   string         `json:"progress,omitempty"`
	ResultID   string         `json:"result_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Result 记录一次任务执行的结果，创建后不可变。
type Result struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Data      string `json:"data"`
	IsError   bool   `json:"is_error"`
	CreatedAt int64  `json:"created_at"`
}

var (
	// ErrWorkflowNotFound 表示指定的工作流不存在。
	ErrWorkflowNotFound = xerrors.New(CodeWorkflowNotFound, "workflow not found")
	// ErrWorkflowNotCompleted 表示工作流尚未到达终态，结果不可读。
	ErrWorkflowNotCompleted = xerrors.New(CodeWorkflowNotCompleted, "workflow not completed yet", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrResultNotFound 表示任务尚未产生结果。
	ErrResultNotFound = xerrors.New(CodeResultNotFound, "result not found")
)

const (
	CodeWorkflowNotFound     xerrors.Code = "WORKFLOW_NOT_FOUND"
	CodeWorkflowNotCompleted xerrors.Code = "WORKFLOW_NOT_COMPLETED"
	CodeTaskNotFound         xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict         xerrors.Code = "TASK_CONFLICT"
	CodeResultNotFound       xerrors.Code = "RESULT_NOT_FOUND"
	CodeValidation           xerrors.Code = "WORKFLOW_VALIDATION_FAILED"
	CodeDependencyNotFound   xerrors.Code = "DEPENDENCY_NOT_FOUND"
	CodeCycleDetected        xerrors.Code = "CYCLE_DETECTED"
	CodeDependencyFailed     xerrors.Code = "DEPENDENCY_FAILED"
	CodeJobExecutionFailed   xerrors.Code = "JOB_EXECUTION_FAILED"
)

func init() {
	xerrors.Register(CodeWorkflowNotFound, xerrors.Attributes{
		Message:   "workflow not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWorkflowNotCompleted, xerrors.Attributes{
		Message:   "workflow not completed yet",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeResultNotFound, xerrors.Attributes{
		Message:   "result not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:   "workflow validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDependencyNotFound, xerrors.Attributes{
		Message:   "dependency task not found",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeCycleDetected, xerrors.Attributes{
		Message:   "cycle detected in dependency chain",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeDependencyFailed, xerrors.Attributes{
		Message:   "dependency task failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobExecutionFailed, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// IsValidTaskStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskQueued, TaskInProgress, TaskCompleted, TaskFailed, TaskBlocked:
		return true
	default:
		return false
	}
}

// IsValidWorkflowStatus 检查给定的工作流状态是否为支持的枚举值。
func IsValidWorkflowStatus(status WorkflowStatus) bool {
	switch status {
	case WorkflowInitial, WorkflowInProgress, WorkflowCompleted, WorkflowFailed:
		return true
	default:
		return false
	}
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cloned := make(map[string]any, len(payload))
	for key, value := range payload {
		cloned[key] = value
	}
	return cloned
}
