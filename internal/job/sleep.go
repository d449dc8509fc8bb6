package job

import (
	"context"
	"fmt"
	"time"

	xerrors "FlowChain/internal/errors"
)

// TypeSleep 是休眠任务的类型标识，用于模拟耗时操作。
const TypeSleep = "sleep"

// SleepJob 休眠指定时长后返回。上下文取消时提前结束并报超时。
//
// Payload 约定：
//
//	duration_ms: 休眠毫秒数，必须大于 0。
type SleepJob struct{}

// Run 实现 Job 接口。
func (j *SleepJob) Run(ctx context.Context, view View) (string, error) {
	raw, ok := toFloat(view.Payload["duration_ms"])
	if !ok || raw <= 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "payload 缺少合法的 duration_ms")
	}
	duration := time.Duration(raw) * time.Millisecond

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "休眠任务被取消")
	case <-timer.C:
	}
	return fmt.Sprintf("slept %s", duration), nil
}
