package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	xerrors "FlowChain/internal/errors"
)

// MemoryStore 以内存方式保存工作流状态，是默认驱动，也是测试基座。
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	tasks     map[string]*Task
	steps     map[string]string // (workflowID, stepNumber) -> taskID
	results   map[string]*Result
	byTask    map[string]string // taskID -> resultID
	queue     []string          // queued 任务按入队顺序排列
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*Workflow),
		tasks:     make(map[string]*Task),
		steps:     make(map[string]string),
		results:   make(map[string]*Result),
		byTask:    make(map[string]string),
	}
}

func stepKey(workflowID string, step int) string {
	return fmt.Sprintf("%s#%d", workflowID, step)
}

// CreateWorkflow 实现 Store 接口。
func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "workflow 不能为空")
	}
	if wf.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工作流 ID 不能为空")
	}
	if _, ok := m.workflows[wf.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "工作流已存在")
	}
	now := time.Now().Unix()
	if wf.CreatedAt == 0 {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	clone := *wf
	m.workflows[wf.ID] = &clone
	return nil
}

// GetWorkflow 返回工作流。
func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	clone := *wf
	return &clone, nil
}

// UpdateWorkflow 写入工作流状态。终态工作流不再被修改。
func (m *MemoryStore) UpdateWorkflow(_ context.Context, id string, status WorkflowStatus, finalResult string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return ErrWorkflowNotFound
	}
	if wf.Status.Terminal() {
		return nil
	}
	wf.Status = status
	wf.FinalResult = finalResult
	wf.UpdatedAt = time.Now().Unix()
	return nil
}

// ListWorkflows 返回最近的工作流。
func (m *MemoryStore) ListWorkflows(_ context.Context, opts ListOptions) ([]*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	matches := func(wf *Workflow) bool {
		if len(opts.Statuses) == 0 {
			return true
		}
		for _, status := range opts.Statuses {
			if wf.Status == status {
				return true
			}
		}
		return false
	}

	results := make([]*Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if !matches(wf) {
			continue
		}
		clone := *wf
		results = append(results, &clone)
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return nil, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// CreateTasks 批量创建任务。工作流构建方保证 stepNumber 在
// 工作流内唯一，存储层再做一次兜底校验。
func (m *MemoryStore) CreateTasks(_ context.Context, tasks []*Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range tasks {
		if task == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
		}
		if task.ID == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
		}
		if _, ok := m.tasks[task.ID]; ok {
			return ErrTaskConflict
		}
		if _, ok := m.steps[stepKey(task.WorkflowID, task.StepNumber)]; ok {
			return ErrTaskConflict
		}
	}
	now := time.Now().Unix()
	for _, task := range tasks {
		if task.CreatedAt == 0 {
			task.CreatedAt = now
		}
		task.UpdatedAt = now
		clone := cloneTask(task)
		m.tasks[task.ID] = clone
		m.steps[stepKey(task.WorkflowID, task.StepNumber)] = task.ID
		if clone.Status == TaskQueued {
			m.queue = append(m.queue, task.ID)
		}
	}
	return nil
}

// GetTask 返回任务。
func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// GetTaskByStep 按 (workflowID, stepNumber) 查找任务，供依赖解析使用。
func (m *MemoryStore) GetTaskByStep(_ context.Context, workflowID string, step int) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.steps[stepKey(workflowID, step)]
	if !ok {
		return nil, ErrTaskNotFound
	}
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// ListTasks 返回工作流内全部任务，按 stepNumber 升序。
func (m *MemoryStore) ListTasks(_ context.Context, workflowID string) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Task, 0, 8)
	for _, task := range m.tasks {
		if task.WorkflowID != workflowID {
			continue
		}
		results = append(results, cloneTask(task))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StepNumber < results[j].StepNumber
	})
	return results, nil
}

// ListQueued 按入队顺序返回 queued 任务。
func (m *MemoryStore) ListQueued(_ context.Context, limit int) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 1
	}
	results := make([]*Task, 0, limit)
	remaining := m.queue[:0]
	for _, id := range m.queue {
		task, ok := m.tasks[id]
		if !ok || task.Status != TaskQueued {
			continue
		}
		if len(results) < limit {
			results = append(results, cloneTask(task))
		}
		remaining = append(remaining, id)
	}
	m.queue = remaining
	return results, nil
}

// ClaimTask 将任务从 queued 置为 in_progress。
func (m *MemoryStore) ClaimTask(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.Status != TaskQueued {
		return cloneTask(task), ErrTaskConflict
	}
	task.Status = TaskInProgress
	task.Progress = "starting job..."
	task.UpdatedAt = time.Now().Unix()
	return cloneTask(task), nil
}

// MarkTaskBlocked 将任务置为 blocked。
func (m *MemoryStore) MarkTaskBlocked(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = TaskBlocked
	task.Progress = ""
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkTaskCompleted 将任务置为 completed 并关联结果。
func (m *MemoryStore) MarkTaskCompleted(_ context.Context, id string, resultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = TaskCompleted
	task.ResultID = resultID
	task.Progress = ""
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkTaskFailed 将任务置为 failed 并关联结果。
func (m *MemoryStore) MarkTaskFailed(_ context.Context, id string, resultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = TaskFailed
	task.ResultID = resultID
	task.Progress = ""
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// RequeueBlocked 释放工作流内全部 blocked 任务。
func (m *MemoryStore) RequeueBlocked(_ context.Context, workflowID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := make([]string, 0, 4)
	now := time.Now().Unix()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		task := m.tasks[id]
		if task.WorkflowID != workflowID || task.Status != TaskBlocked {
			continue
		}
		task.Status = TaskQueued
		task.UpdatedAt = now
		m.queue = append(m.queue, task.ID)
		released = append(released, task.ID)
	}
	return released, nil
}

// CreateResult 写入一次执行结果，结果只插入不更新。
func (m *MemoryStore) CreateResult(_ context.Context, result *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "result 不能为空")
	}
	if result.ID == "" || result.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "结果 ID 与任务 ID 不能为空")
	}
	if _, ok := m.results[result.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "结果已存在")
	}
	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}
	clone := *result
	m.results[result.ID] = &clone
	m.byTask[result.TaskID] = result.ID
	return nil
}

// GetResultByTask 返回任务的执行结果。
func (m *MemoryStore) GetResultByTask(_ context.Context, taskID string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTask[taskID]
	if !ok {
		return nil, ErrResultNotFound
	}
	result, ok := m.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	clone := *result
	return &clone, nil
}

// WorkflowStats 统计工作流内任务状态分布。
func (m *MemoryStore) WorkflowStats(ctx context.Context, workflowID string) (Stats, error) {
	tasks, err := m.ListTasks(ctx, workflowID)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(tasks), nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.DependsOn != nil {
		dep := *task.DependsOn
		clone.DependsOn = &dep
	}
	clone.Payload = clonePayload(task.Payload)
	return &clone
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
