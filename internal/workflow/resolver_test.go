package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func intPtr(v int) *int { return &v }

// seedWorkflow 直接写入存储，绕过提交校验，便于构造环等非法拓扑。
func seedWorkflow(t *testing.T, store *MemoryStore, tasks []*Task) string {
	t.Helper()
	ctx := context.Background()
	wf := &Workflow{ID: uuid.NewString(), Name: "test", Status: WorkflowInitial}
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	for _, task := range tasks {
		task.WorkflowID = wf.ID
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if task.Status == "" {
			task.Status = TaskQueued
		}
	}
	if err := store.CreateTasks(ctx, tasks); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	return wf.ID
}

func TestResolveNoDependencyIsRunnable(t *testing.T) {
	store := NewMemoryStore()
	task := &Task{StepNumber: 1, TaskType: "echo"}
	seedWorkflow(t, store, []*Task{task})

	decision, err := NewResolver(store).Resolve(context.Background(), task)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Outcome != OutcomeRunnable {
		t.Fatalf("outcome = %s, want runnable", decision.Outcome)
	}
}

func TestResolveDependencyStates(t *testing.T) {
	cases := []struct {
		name    string
		status  TaskStatus
		outcome Outcome
	}{
		{"completed", TaskCompleted, OutcomeRunnable},
		{"queued", TaskQueued, OutcomeBlocked},
		{"in_progress", TaskInProgress, OutcomeBlocked},
		{"blocked", TaskBlocked, OutcomeBlocked},
		{"failed", TaskFailed, OutcomeAutoFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			dep := &Task{StepNumber: 1, TaskType: "echo", Status: tc.status}
			task := &Task{StepNumber: 2, TaskType: "echo", DependsOn: intPtr(1)}
			seedWorkflow(t, store, []*Task{dep, task})

			decision, err := NewResolver(store).Resolve(context.Background(), task)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if decision.Outcome != tc.outcome {
				t.Fatalf("outcome = %s, want %s", decision.Outcome, tc.outcome)
			}
			if tc.status == TaskFailed {
				if decision.Code != CodeDependencyFailed {
					t.Fatalf("code = %s, want %s", decision.Code, CodeDependencyFailed)
				}
				if !strings.Contains(decision.Reason, "step 1") {
					t.Fatalf("reason 未指明失败的依赖步骤: %q", decision.Reason)
				}
			}
		})
	}
}

func TestResolveMissingDependencyAutoFails(t *testing.T) {
	store := NewMemoryStore()
	task := &Task{StepNumber: 2, TaskType: "echo", DependsOn: intPtr(7)}
	seedWorkflow(t, store, []*Task{task})

	decision, err := NewResolver(store).Resolve(context.Background(), task)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Outcome != OutcomeAutoFailed {
		t.Fatalf("outcome = %s, want auto_failed", decision.Outcome)
	}
	if decision.Code != CodeDependencyNotFound {
		t.Fatalf("code = %s, want %s", decision.Code, CodeDependencyNotFound)
	}
}

func TestResolveSelfDependencyIsCycle(t *testing.T) {
	store := NewMemoryStore()
	task := &Task{StepNumber: 1, TaskType: "echo", DependsOn: intPtr(1)}
	seedWorkflow(t, store, []*Task{task})

	decision, err := NewResolver(store).Resolve(context.Background(), task)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Outcome != OutcomeAutoFailed || decision.Code != CodeCycleDetected {
		t.Fatalf("decision = %+v, want auto_failed/%s", decision, CodeCycleDetected)
	}
}

// 互相依赖的两个任务都停在非终态，若先看依赖状态会被误判为
// blocked。环检测必须先给出结论。
func TestResolveTwoTaskCyclePrecedesStatusCheck(t *testing.T) {
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", DependsOn: intPtr(2), Status: TaskBlocked}
	b := &Task{StepNumber: 2, TaskType: "echo", DependsOn: intPtr(1), Status: TaskBlocked}
	seedWorkflow(t, store, []*Task{a, b})

	resolver := NewResolver(store)
	for _, task := range []*Task{a, b} {
		decision, err := resolver.Resolve(context.Background(), task)
		if err != nil {
			t.Fatalf("Resolve step %d: %v", task.StepNumber, err)
		}
		if decision.Outcome != OutcomeAutoFailed || decision.Code != CodeCycleDetected {
			t.Fatalf("step %d decision = %+v, want auto_failed/%s",
				task.StepNumber, decision, CodeCycleDetected)
		}
	}
}

// 链上的断点按依赖缺失处理，不是环；遍历必须正常终止。
func TestResolveBrokenChainIsNotCycle(t *testing.T) {
	store := NewMemoryStore()
	a := &Task{StepNumber: 1, TaskType: "echo", DependsOn: intPtr(9)}
	b := &Task{StepNumber: 2, TaskType: "echo", DependsOn: intPtr(1)}
	seedWorkflow(t, store, []*Task{a, b})

	decision, err := NewResolver(store).Resolve(context.Background(), b)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %s, want blocked", decision.Outcome)
	}
}
