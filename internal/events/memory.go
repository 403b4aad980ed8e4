package events

import (
	"context"
	"strconv"
	"sync"

	xerrors "CertVerify-Chain/internal/errors"
)

// MemoryQueue 使用 channel 模拟消息队列，用于单进程部署和测试。
type MemoryQueue struct {
	ch     chan MintEvent
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan MintEvent, size)}
}

// Publish 将事件投递到队列。投递不会阻塞，队列已满时直接返回错误。
func (q *MemoryQueue) Publish(ctx context.Context, event MintEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case q.ch <- event:
		return nil
	default:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已满",
			xerrors.WithMetadata("capacity", strconv.Itoa(cap(q.ch))))
	}
}

// Consume 启动指定数量的工作协程消费队列，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, event)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
