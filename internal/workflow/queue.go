package workflow

import (
	"context"
)

// Handler 消费一个任务 ID。返回非 nil 仅表示基础设施故障（存储层
// 出错），此时驱动应把该 ID 重新投递；业务失败由执行器记录为数据，
// 不会传到这里。
type Handler func(ctx context.Context, taskID string) error

// Producer 向队列投递任务 ID。提交工作流与解除阻塞时调用。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个协程消费任务 ID，直到上下文取消。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力，单进程部署时两端共用一个实例。
type Queue interface {
	Producer
	Consumer
}
