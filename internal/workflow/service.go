package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "FlowChain/internal/errors"
	"FlowChain/pkg/logger"
)

// Step 描述提交请求里的一个步骤。
type Step struct {
	StepNumber int            `json:"step_number"`
	TaskType   string         `json:"task_type"`
	DependsOn  *int           `json:"depends_on,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// SubmitRequest 描述一次工作流提交。
type SubmitRequest struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// StatusReport 是状态查询接口的响应。
type StatusReport struct {
	WorkflowID string         `json:"workflow_id"`
	Status     WorkflowStatus `json:"status"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
}

// ResultReport 是结果查询接口的响应，仅在工作流终态后有意义。
type ResultReport struct {
	WorkflowID  string         `json:"workflow_id"`
	Status      WorkflowStatus `json:"status"`
	FinalResult string         `json:"final_result"`
}

// Service 负责工作流的创建与查询。
type Service struct {
	store    Store
	producer Producer
}

// NewService 构造工作流服务。producer 可为 nil（轮询调度模式）。
func NewService(store Store, producer Producer) *Service {
	return &Service{store: store, producer: producer}
}

// Submit 校验并创建一个工作流及其全部任务，任务以 queued 状态入库。
//
// 校验内容：stepNumber 在工作流内唯一、taskType 非空、dependsOn
// 必须引用本工作流内存在的步骤且不能引用自身。依赖环不在提交时
// 拒绝，由运行期的 Resolver 检出并自动失败。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Workflow, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	wf := &Workflow{
		ID:     uuid.NewString(),
		Name:   strings.TrimSpace(req.Name),
		Status: WorkflowInitial,
	}
	tasks := make([]*Task, 0, len(req.Steps))
	for _, step := range req.Steps {
		var dependsOn *int
		if step.DependsOn != nil {
			dep := *step.DependsOn
			dependsOn = &dep
		}
		tasks = append(tasks, &Task{
			ID:         uuid.NewString(),
			WorkflowID: wf.ID,
			StepNumber: step.StepNumber,
			TaskType:   strings.TrimSpace(step.TaskType),
			Status:     TaskQueued,
			DependsOn:  dependsOn,
			Payload:    clonePayload(step.Payload),
		})
	}

	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		return nil, err
	}

	if s.producer != nil {
		for _, task := range tasks {
			if err := s.producer.Publish(ctx, task.ID); err != nil {
				logger.L().Error("任务入队失败",
					slog.Any("error", err),
					slog.String("task_id", task.ID),
				)
				return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "发布任务到队列失败")
			}
		}
	}

	logger.Audit().Info("工作流提交成功",
		slog.String("workflow_id", wf.ID),
		slog.String("name", wf.Name),
		slog.Int("tasks", len(tasks)),
	)
	return wf, nil
}

// Status 返回工作流的状态摘要。
func (s *Service) Status(ctx context.Context, workflowID string) (StatusReport, error) {
	if s.store == nil {
		return StatusReport{}, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return StatusReport{}, err
	}
	stats, err := s.store.WorkflowStats(ctx, workflowID)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		WorkflowID: wf.ID,
		Status:     wf.Status,
		Total:      stats.Total,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
	}, nil
}

// Result 返回工作流的最终结果。非终态时返回 ErrWorkflowNotCompleted。
func (s *Service) Result(ctx context.Context, workflowID string) (ResultReport, error) {
	if s.store == nil {
		return ResultReport{}, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return ResultReport{}, err
	}
	if !wf.Status.Terminal() {
		return ResultReport{}, ErrWorkflowNotCompleted
	}
	return ResultReport{
		WorkflowID:  wf.ID,
		Status:      wf.Status,
		FinalResult: wf.FinalResult,
	}, nil
}

// Tasks 返回工作流内全部任务。
func (s *Service) Tasks(ctx context.Context, workflowID string) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, workflowID)
}

// Stats 返回工作流内任务状态分布。
func (s *Service) Stats(ctx context.Context, workflowID string) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return Stats{}, err
	}
	return s.store.WorkflowStats(ctx, workflowID)
}

// List 返回符合过滤条件的工作流列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Workflow, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化")
	}
	options := buildListOptions(opts)
	return s.store.ListWorkflows(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilTerminal 在指定超时时间内轮询工作流状态，测试与 CLI 使用。
func (s *Service) WaitUntilTerminal(ctx context.Context, workflowID string, interval time.Duration) (*Workflow, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		wf, err := s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if wf.Status.Terminal() {
			return wf, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func validateSubmitRequest(req SubmitRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return xerrors.New(CodeValidation, "工作流名称不能为空")
	}
	if len(req.Steps) == 0 {
		return xerrors.New(CodeValidation, "工作流至少需要一个步骤")
	}
	seen := make(map[int]struct{}, len(req.Steps))
	for _, step := range req.Steps {
		if strings.TrimSpace(step.TaskType) == "" {
			return xerrors.New(CodeValidation,
				fmt.Sprintf("步骤 %d 缺少任务类型", step.StepNumber))
		}
		if _, ok := seen[step.StepNumber]; ok {
			return xerrors.New(CodeValidation,
				fmt.Sprintf("步骤编号重复: %d", step.StepNumber))
		}
		seen[step.StepNumber] = struct{}{}
	}
	for _, step := range req.Steps {
		if step.DependsOn == nil {
			continue
		}
		if *step.DependsOn == step.StepNumber {
			return xerrors.New(CodeValidation,
				fmt.Sprintf("步骤 %d 不能依赖自身", step.StepNumber))
		}
		if _, ok := seen[*step.DependsOn]; !ok {
			return xerrors.New(CodeValidation,
				fmt.Sprintf("步骤 %d 依赖的步骤 %d 不存在", step.StepNumber, *step.DependsOn))
		}
	}
	return nil
}
