package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
)

// recordingProducer 记录发布过的任务 ID。
type recordingProducer struct {
	mu        sync.Mutex
	published []string
}

func (p *recordingProducer) Publish(_ context.Context, taskID string) error {
	p.mu.Lock()
	p.published = append(p.published, taskID)
	p.mu.Unlock()
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

func TestRecomputeCompletesWhenAllTasksDone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", Status: TaskCompleted}
	b := &Task{StepNumber: 2, TaskType: "echo", Status: TaskCompleted}
	workflowID := seedWorkflow(t, store, []*Task{a, b})

	wf, err := NewAggregator(store).Recompute(ctx, workflowID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if wf.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want completed", wf.Status)
	}
	if wf.FinalResult != "Workflow finished with 2 task(s) completed." {
		t.Fatalf("finalResult = %q", wf.FinalResult)
	}
}

func TestRecomputeFailureListsFailedTasksInStepOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", Status: TaskFailed}
	b := &Task{StepNumber: 2, TaskType: "echo", Status: TaskCompleted}
	c := &Task{StepNumber: 3, TaskType: "echo", Status: TaskFailed}
	workflowID := seedWorkflow(t, store, []*Task{a, b, c})

	if err := store.CreateResult(ctx, &Result{ID: "r-a", TaskID: a.ID, Data: "boom-a", IsError: true}); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}

	wf, err := NewAggregator(store).Recompute(ctx, workflowID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if wf.Status != WorkflowFailed {
		t.Fatalf("status = %s, want failed", wf.Status)
	}
	if !strings.HasPrefix(wf.FinalResult, "Workflow finished with 1 task(s) completed and 2 task(s) failed.") {
		t.Fatalf("finalResult = %q", wf.FinalResult)
	}
	if !strings.Contains(wf.FinalResult, "Task "+a.ID+" failed: boom-a") {
		t.Fatalf("finalResult 未携带失败输出: %q", wf.FinalResult)
	}
	// 无结果的失败任务退化为占位文本。
	if !strings.Contains(wf.FinalResult, "Task "+c.ID+" failed: no result recorded") {
		t.Fatalf("finalResult = %q", wf.FinalResult)
	}
	if strings.Index(wf.FinalResult, a.ID) > strings.Index(wf.FinalResult, c.ID) {
		t.Fatalf("失败任务应按步骤升序列出: %q", wf.FinalResult)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", Status: TaskCompleted}
	workflowID := seedWorkflow(t, store, []*Task{a})

	aggregator := NewAggregator(store)
	first, err := aggregator.Recompute(ctx, workflowID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	second, err := aggregator.Recompute(ctx, workflowID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if first.Status != second.Status || first.FinalResult != second.FinalResult {
		t.Fatalf("重复重算结果不一致: %+v vs %+v", first, second)
	}
}

func TestRecomputeIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", Status: TaskFailed}
	workflowID := seedWorkflow(t, store, []*Task{a})

	aggregator := NewAggregator(store)
	if _, err := aggregator.Recompute(ctx, workflowID); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	// 终态之后即使任务状态被改写，工作流也不再回退。
	if err := store.MarkTaskCompleted(ctx, a.ID, ""); err != nil {
		t.Fatalf("MarkTaskCompleted: %v", err)
	}
	wf, err := aggregator.Recompute(ctx, workflowID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if wf.Status != WorkflowFailed {
		t.Fatalf("status = %s, want failed", wf.Status)
	}
}

func TestRecomputeReleasesParkedTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", Status: TaskCompleted}
	b := &Task{StepNumber: 2, TaskType: "echo", Status: TaskBlocked, DependsOn: intPtr(1)}
	workflowID := seedWorkflow(t, store, []*Task{a, b})

	producer := &recordingProducer{}
	aggregator := NewAggregator(store, WithAggregatorProducer(producer))

	wf, err := aggregator.Recompute(ctx, workflowID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if wf.Status != WorkflowInProgress {
		t.Fatalf("status = %s, want in_progress", wf.Status)
	}

	released, err := store.GetTask(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if released.Status != TaskQueued {
		t.Fatalf("blocked 任务未被释放: %s", released.Status)
	}
	ids := producer.ids()
	if len(ids) != 1 || ids[0] != b.ID {
		t.Fatalf("released 任务未重新投递: %v", ids)
	}
}

func TestRecomputeLeavesActiveTasksAlone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", Status: TaskInProgress}
	b := &Task{StepNumber: 2, TaskType: "echo", Status: TaskBlocked, DependsOn: intPtr(1)}
	workflowID := seedWorkflow(t, store, []*Task{a, b})

	producer := &recordingProducer{}
	if _, err := NewAggregator(store, WithAggregatorProducer(producer)).Recompute(ctx, workflowID); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	// 还有任务在执行，blocked 任务保持原状等待下一轮重算。
	blocked, err := store.GetTask(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if blocked.Status != TaskBlocked {
		t.Fatalf("status = %s, want blocked", blocked.Status)
	}
	if len(producer.ids()) != 0 {
		t.Fatalf("不应有任务被重新投递: %v", producer.ids())
	}
}
