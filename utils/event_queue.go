package utils

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// EventQueue 无界的事件队列
// 生产者入队永远不会阻塞，消费者处理事件时可以再次触发新的事件
type EventQueue struct {
	lock   sync.Mutex
	items  *queue.Queue
	signal chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{
		items:  queue.New(),
		signal: make(chan struct{}, 1),
	}
}

func (q *EventQueue) Push(item interface{}) {
	q.lock.Lock()
	q.items.Add(item)
	q.lock.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop 阻塞直到有事件可取或者ctx结束
func (q *EventQueue) Pop(ctx context.Context) (interface{}, error) {
	for {
		q.lock.Lock()
		if q.items.Length() > 0 {
			item := q.items.Remove()
			q.lock.Unlock()
			return item, nil
		}
		q.lock.Unlock()
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *EventQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.items.Length()
}
