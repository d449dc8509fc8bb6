package workflow

import "context"

// Store 抽象了工作流、任务与结果的持久化接口。
// 所有写入在返回前必须已经对后续读取可见。
type Store interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	// UpdateWorkflow 写入工作流状态与最终结果。对已处于终态的
	// 工作流调用时不做任何修改（状态单调性由存储层兜底）。
	UpdateWorkflow(ctx context.Context, id string, status WorkflowStatus, finalResult string) error
	ListWorkflows(ctx context.Context, opts ListOptions) ([]*Workflow, error)

	CreateTasks(ctx context.Context, tasks []*Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	GetTaskByStep(ctx context.Context, workflowID string, step int) (*Task, error)
	ListTasks(ctx context.Context, workflowID string) ([]*Task, error)
	// ListQueued 按入队先后返回待执行任务，供轮询调度器使用。
	ListQueued(ctx context.Context, limit int) ([]*Task, error)

	// ClaimTask 以条件更新把任务从 queued 置为 in_progress，
	// 保证同一任务最多只有一个执行者。竞争失败返回 ErrTaskConflict。
	ClaimTask(ctx context.Context, id string) (*Task, error)
	MarkTaskBlocked(ctx context.Context, id string) error
	MarkTaskCompleted(ctx context.Context, id string, resultID string) error
	MarkTaskFailed(ctx context.Context, id string, resultID string) error
	// RequeueBlocked 把指定工作流内所有 blocked 任务重新置为 queued，
	// 返回被释放的任务 ID。
	RequeueBlocked(ctx context.Context, workflowID string) ([]string, error)

	CreateResult(ctx context.Context, result *Result) error
	GetResultByTask(ctx context.Context, taskID string) (*Result, error)

	WorkflowStats(ctx context.Context, workflowID string) (Stats, error)
	Close() error
}
