package workflow

import "context"

// Recovery 是补偿策略给出的降级输出。
type Recovery struct {
	Output string
}

// RecoveryHandler 定义任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回非 nil 的 Recovery 时，任务以降级输出按成功落盘；
	// 返回 nil 则继续按失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*Recovery, error)
}
