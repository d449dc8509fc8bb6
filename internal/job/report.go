package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "FlowChain/internal/errors"
)

// TypeReport 是报告生成任务的类型标识。
const TypeReport = "report"

// ReportJob 把 payload 渲染成一段纯文本报告。
//
// Payload 约定：
//
//	title:    报告标题，必填。
//	sections: 可选的字符串数组，逐行列出。
type ReportJob struct {
	// Now 允许测试固定时间戳，缺省使用 time.Now。
	Now func() time.Time
}

// Run 实现 Job 接口。
func (j *ReportJob) Run(_ context.Context, view View) (string, error) {
	title, _ := view.Payload["title"].(string)
	if strings.TrimSpace(title) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "payload 缺少 title")
	}

	now := time.Now
	if j != nil && j.Now != nil {
		now = j.Now
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", strings.TrimSpace(title))
	fmt.Fprintf(&b, "generated_at: %s\n", now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "workflow: %s\n", view.WorkflowID)

	if raw, ok := view.Payload["sections"].([]any); ok {
		for i, item := range raw {
			line, ok := item.(string)
			if !ok {
				return "", xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("sections[%d] 不是字符串", i))
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return b.String(), nil
}
