package job

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "FlowChain/internal/errors"
)

// CodeUnknownJobType 表示任务引用了未注册的 Job 类型。
const CodeUnknownJobType xerrors.Code = "UNKNOWN_JOB_TYPE"

func init() {
	xerrors.Register(CodeUnknownJobType, xerrors.Attributes{
		Message:   "unknown job type",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// View 是传递给 Job 的任务快照。Payload 是副本，Job 可以随意修改。
type View struct {
	TaskID     string
	WorkflowID string
	TaskType   string
	StepNumber int
	Payload    map[string]any
}

// Job 定义一种可执行的任务类型。Run 返回的字符串作为任务结果落盘，
// 返回错误则任务进入 failed 状态。
type Job interface {
	Run(ctx context.Context, view View) (string, error)
}

// Func 允许用函数直接充当 Job。
type Func func(ctx context.Context, view View) (string, error)

// Run 实现 Job 接口。
func (f Func) Run(ctx context.Context, view View) (string, error) {
	return f(ctx, view)
}

// Registry 维护任务类型到 Job 实现的映射。
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry 创建一个空的注册表。
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register 注册一种任务类型。重复注册覆盖旧实现。
func (r *Registry) Register(taskType string, j Job) error {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务类型不能为空")
	}
	if j == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "Job 实现不能为空")
	}
	r.mu.Lock()
	r.jobs[taskType] = j
	r.mu.Unlock()
	return nil
}

// Lookup 返回任务类型对应的 Job。
func (r *Registry) Lookup(taskType string) (Job, error) {
	r.mu.RLock()
	j, ok := r.jobs[taskType]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(CodeUnknownJobType,
			fmt.Sprintf("未注册的任务类型: %s", taskType),
			xerrors.WithMetadata("task_type", taskType))
	}
	return j, nil
}

// Types 返回已注册的任务类型列表，按字典序排序。
func (r *Registry) Types() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.jobs))
	for t := range r.jobs {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}

// Defaults 返回注册了全部内置 Job 的注册表。
func Defaults() *Registry {
	r := NewRegistry()
	_ = r.Register(TypePolygonArea, &PolygonAreaJob{})
	_ = r.Register(TypeReport, &ReportJob{})
	_ = r.Register(TypeEcho, &EchoJob{})
	_ = r.Register(TypeSleep, &SleepJob{})
	return r
}
