package timer

import (
	"errors"
	"sync"
)

// ErrLockPoisoned is returned by every registry access after a panic escaped
// while the registry lock was held.
var ErrLockPoisoned = errors.New("listener registry poisoned by an earlier panic")

// ErrNilListener is returned when a nil channel is attached.
var ErrNilListener = errors.New("listener channel is nil")

// registry is the ordered set of listeners shared between the Timer's callers
// and its goroutine. All access goes through do, which holds the lock for the
// duration of fn and poisons the registry if fn panics.
type registry struct {
	mu        sync.Mutex
	listeners []chan<- uint64
	poisoned  bool
}

func (r *registry) do(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned {
		return ErrLockPoisoned
	}

	completed := false
	defer func() {
		if !completed {
			r.poisoned = true
		}
	}()
	fn()
	completed = true
	return nil
}

func (r *registry) attach(ch chan<- uint64) error {
	return r.do(func() {
		r.listeners = append(r.listeners, ch)
	})
}

func (r *registry) clear() error {
	return r.do(func() {
		r.listeners = nil
	})
}

func (r *registry) len() (int, error) {
	var n int
	err := r.do(func() {
		n = len(r.listeners)
	})
	return n, err
}

// broadcast sends ts to every listener without blocking and reports how many
// listeners took the value and how many missed it.
func (r *registry) broadcast(ts uint64) (delivered, missed int, err error) {
	err = r.do(func() {
		for _, ch := range r.listeners {
			if trySend(ch, ts) {
				delivered++
			} else {
				missed++
			}
		}
	})
	return delivered, missed, err
}

// trySend performs a non-blocking send. A full or unread channel, or one the
// receiver has closed, counts as a miss.
func trySend(ch chan<- uint64, ts uint64) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- ts:
		return true
	default:
		return false
	}
}
