package store

import (
	"sync"
)

// subscription delivers snapshots on its own goroutine. Signals coalesce: the
// goroutine reads the current value when it wakes, so a burst of writes is
// seen as one delivery of the newest state.
type subscription struct {
	path    string
	fn      func(value any)
	pending chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription(path string, fn func(value any)) *subscription {
	return &subscription{
		path:    path,
		fn:      fn,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscription) signal() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run(read func(path string) any) {
	for {
		select {
		case <-s.done:
			return
		case <-s.pending:
		}

		value := read(s.path)

		select {
		case <-s.done:
			return
		default:
		}
		s.fn(value)
	}
}
