package runtime

import (
	"sync"

	"github.com/gammazero/deque"
)

// Feed is a live sequence backed by an unbounded queue, so publishers never
// block on a slow reader. Items are handed out in publish order, each once.
type Feed[T any] struct {
	mu       sync.Mutex
	queue    deque.Deque[T]
	signal   chan struct{}
	out      chan T
	done     chan struct{}
	once     sync.Once
	onCancel func()
}

// NewFeed starts a feed with backlog queued ahead of anything published later.
func NewFeed[T any](backlog []T, onCancel func()) *Feed[T] {
	f := &Feed[T]{
		signal:   make(chan struct{}, 1),
		out:      make(chan T),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
	for _, item := range backlog {
		f.queue.PushBack(item)
	}
	go f.pump()
	return f
}

func (f *Feed[T]) C() <-chan T {
	return f.out
}

// Publish queues an item. Publishing on a cancelled feed is a no-op.
func (f *Feed[T]) Publish(item T) {
	select {
	case <-f.done:
		return
	default:
	}
	f.mu.Lock()
	f.queue.PushBack(item)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Cancel stops delivery and releases the queue. Safe to call many times.
func (f *Feed[T]) Cancel() {
	f.once.Do(func() {
		close(f.done)
		if f.onCancel != nil {
			f.onCancel()
		}
	})
}

func (f *Feed[T]) pump() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if f.queue.Len() == 0 {
			f.mu.Unlock()
			select {
			case <-f.signal:
				continue
			case <-f.done:
				return
			}
		}
		item := f.queue.PopFront()
		f.mu.Unlock()

		select {
		case <-f.done:
			return
		default:
		}
		select {
		case f.out <- item:
		case <-f.done:
			return
		}
	}
}

// subscribers is the set of feeds attached to one conversation.
type subscribers[T any] map[*Feed[T]]struct{}

func (s subscribers[T]) publish(item T) {
	for feed := range s {
		feed.Publish(item)
	}
}
