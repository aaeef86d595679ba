package sim

import (
	"context"
	"sync"

	"github.com/smazurov/camgraph/internal/hw"
)

// queue is a FIFO of buffers with a blocking wait.
type queue struct {
	mu     sync.Mutex
	items  []*hw.Buffer
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) Get() *hw.Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return b
}

func (q *queue) Wait(ctx context.Context) (*hw.Buffer, error) {
	for {
		if b := q.Get(); b != nil {
			return b, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) Put(b *hw.Buffer) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.notify()
	q.mu.Unlock()
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
