package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreClaimTaskIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	task := &Task{StepNumber: 1, TaskType: "echo"}
	seedWorkflow(t, store, []*Task{task})

	claimed, err := store.ClaimTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("首次领取失败: %v", err)
	}
	if claimed.Status != TaskInProgress {
		t.Fatalf("status = %s, want in_progress", claimed.Status)
	}
	if claimed.Progress != "starting job..." {
		t.Fatalf("progress = %q", claimed.Progress)
	}

	if _, err := store.ClaimTask(ctx, task.ID); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("二次领取应返回 ErrTaskConflict, got %v", err)
	}
}

func TestMemoryStoreGetTaskByStep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo"}
	b := &Task{StepNumber: 2, TaskType: "echo", DependsOn: intPtr(1)}
	workflowID := seedWorkflow(t, store, []*Task{a, b})

	found, err := store.GetTaskByStep(ctx, workflowID, 2)
	if err != nil {
		t.Fatalf("GetTaskByStep: %v", err)
	}
	if found.ID != b.ID {
		t.Fatalf("task = %s, want %s", found.ID, b.ID)
	}

	if _, err := store.GetTaskByStep(ctx, workflowID, 5); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("缺失步骤应返回 ErrTaskNotFound, got %v", err)
	}
}

func TestMemoryStoreListQueuedDropsClaimedTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo"}
	b := &Task{StepNumber: 2, TaskType: "echo"}
	seedWorkflow(t, store, []*Task{a, b})

	if _, err := store.ClaimTask(ctx, a.ID); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	queued, err := store.ListQueued(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != b.ID {
		t.Fatalf("queued = %v, want 仅 %s", queued, b.ID)
	}
}

func TestMemoryStoreRequeueBlocked(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", Status: TaskCompleted}
	b := &Task{StepNumber: 2, TaskType: "echo", Status: TaskBlocked}
	c := &Task{StepNumber: 3, TaskType: "echo", Status: TaskBlocked}
	workflowID := seedWorkflow(t, store, []*Task{a, b, c})

	released, err := store.RequeueBlocked(ctx, workflowID)
	if err != nil {
		t.Fatalf("RequeueBlocked: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("released = %d, want 2", len(released))
	}
	for _, id := range released {
		task, err := store.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if task.Status != TaskQueued {
			t.Fatalf("task %s status = %s, want queued", id, task.Status)
		}
	}
}

func TestMemoryStoreUpdateWorkflowIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	workflowID := seedWorkflow(t, store, []*Task{{StepNumber: 1, TaskType: "echo"}})

	if err := store.UpdateWorkflow(ctx, workflowID, WorkflowFailed, "boom"); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	// 终态后写入应为 no-op。
	if err := store.UpdateWorkflow(ctx, workflowID, WorkflowInProgress, ""); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}

	wf, err := store.GetWorkflow(ctx, workflowID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if wf.Status != WorkflowFailed || wf.FinalResult != "boom" {
		t.Fatalf("workflow = %s/%q, want failed/boom", wf.Status, wf.FinalResult)
	}
}

func TestMemoryStoreResultsAreInsertOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	task := &Task{StepNumber: 1, TaskType: "echo"}
	seedWorkflow(t, store, []*Task{task})

	result := &Result{ID: "r-1", TaskID: task.ID, Data: "42"}
	if err := store.CreateResult(ctx, result); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
	if err := store.CreateResult(ctx, &Result{ID: "r-1", TaskID: task.ID, Data: "other"}); err == nil {
		t.Fatal("重复结果 ID 应被拒绝")
	}

	got, err := store.GetResultByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetResultByTask: %v", err)
	}
	if got.Data != "42" || got.IsError {
		t.Fatalf("result = %+v", got)
	}
}

func TestMemoryStoreCloneOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	task := &Task{StepNumber: 1, TaskType: "echo", Payload: map[string]any{"message": "42"}}
	seedWorkflow(t, store, []*Task{task})

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	got.Payload["message"] = "tampered"
	got.Status = TaskFailed

	again, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if again.Payload["message"] != "42" || again.Status != TaskQueued {
		t.Fatalf("存储内的任务被读取方修改: %+v", again)
	}
}

func TestMemoryStoreListWorkflowsFiltersAndLimits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 3; i++ {
		seedWorkflow(t, store, []*Task{{StepNumber: 1, TaskType: "echo"}})
	}
	completedID := seedWorkflow(t, store, []*Task{{StepNumber: 1, TaskType: "echo"}})
	if err := store.UpdateWorkflow(ctx, completedID, WorkflowCompleted, "done"); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}

	completed, err := store.ListWorkflows(ctx, ListOptions{Statuses: []WorkflowStatus{WorkflowCompleted}})
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != completedID {
		t.Fatalf("completed = %v", completed)
	}

	limited, err := store.ListWorkflows(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}
}
