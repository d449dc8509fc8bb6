package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"FlowChain/internal/workflow"
)

func newTestHandler(t *testing.T) (http.Handler, *workflow.MemoryStore) {
	t.Helper()
	store := workflow.NewMemoryStore()
	service := workflow.NewService(store, nil)
	return NewServer(":0", service).Handler(), store
}

func submitWorkflow(t *testing.T, handler http.Handler, body string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("提交失败: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	return resp.WorkflowID
}

const submitBody = `{
  "name": "smoke",
  "steps": [
    {"step_number": 1, "task_type": "echo", "payload": {"message": "42"}},
    {"step_number": 2, "task_type": "report", "depends_on": 1, "payload": {"title": "t"}}
  ]
}`

func TestSubmitAndStatus(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := submitWorkflow(t, handler, submitBody)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+id+"/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var report workflow.StatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if report.WorkflowID != id || report.Total != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows",
		strings.NewReader(`{"name": "", "steps": []}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("错误体解析失败: %v", err)
	}
	if body["code"] != string(workflow.CodeValidation) {
		t.Fatalf("code = %q", body["code"])
	}
}

func TestResultBeforeTerminalIsConflict(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := submitWorkflow(t, handler, submitBody)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+id+"/result", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusUnknownWorkflowIs404(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/missing/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestTasksAndStatsViews(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := submitWorkflow(t, handler, submitBody)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+id+"/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("tasks = %d: %s", rec.Code, rec.Body.String())
	}
	var tasks []*workflow.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("任务列表解析失败: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+id+"/stats", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	var stats workflow.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("统计解析失败: %v", err)
	}
	if stats.Total != 2 || stats.Queued != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestListWorkflowsWithStatusFilter(t *testing.T) {
	handler, store := newTestHandler(t)
	id := submitWorkflow(t, handler, submitBody)
	submitWorkflow(t, handler, strings.Replace(submitBody, "smoke", "other", 1))

	if err := store.UpdateWorkflow(context.Background(), id, workflow.WorkflowCompleted, "done"); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows?status=completed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var workflows []*workflow.Workflow
	if err := json.Unmarshal(rec.Body.Bytes(), &workflows); err != nil {
		t.Fatalf("列表解析失败: %v", err)
	}
	if len(workflows) != 1 || workflows[0].ID != id {
		t.Fatalf("workflows = %v", workflows)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d, want 405", rec.Code)
	}
}
