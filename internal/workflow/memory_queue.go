package workflow

import (
	"context"
	"sync"

	xerrors "FlowChain/internal/errors"
)

// MemoryQueue 基于 channel 的进程内队列，默认驱动，也是测试的
// 基础设施。Publish 端与 Consume 端可以是同一个实例。
type MemoryQueue struct {
	tasks chan string

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{tasks: make(chan string, size)}
}

// Publish 投递任务 ID，队列满时阻塞直到有空位或上下文取消。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- taskID:
		return nil
	}
}

// Consume 启动 workerCount 个协程消费任务，直到上下文取消或队列
// 关闭。处理失败的任务 ID 重新入队，留待下一轮。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			q.worker(ctx, handler)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) worker(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := handler(ctx, taskID); err != nil {
				q.redeliver(taskID)
			}
		}
	}
}

// redeliver 把存储故障的任务放回队列。队列满或已关闭时丢弃，
// 轮询模式的 ListQueued 仍能兜住这类任务。
func (q *MemoryQueue) redeliver(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.tasks <- taskID:
	default:
	}
}

// Close 关闭队列，唤醒所有消费协程。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.tasks)
		q.closed = true
	}
	return nil
}
