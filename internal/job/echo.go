package job

import (
	"context"

	xerrors "FlowChain/internal/errors"
)

// TypeEcho 是回显任务的类型标识，主要用于联调与验收。
const TypeEcho = "echo"

// EchoJob 原样返回 payload 里的 message 字段。
//
// Payload 约定：
//
//	message: 要回显的字符串，必填。
//	fail:    可选布尔值，为 true 时任务以 message 为错误信息失败。
type EchoJob struct{}

// Run 实现 Job 接口。
func (j *EchoJob) Run(_ context.Context, view View) (string, error) {
	message, ok := view.Payload["message"].(string)
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "payload 缺少 message")
	}
	if fail, _ := view.Payload["fail"].(bool); fail {
		return "", xerrors.New(xerrors.CodeUnknown, message)
	}
	return message, nil
}
