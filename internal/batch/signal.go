package batch

import (
	"errors"
	"sync"
)

// ErrCancelled is the cause reported when Cancel is called with a nil error.
var ErrCancelled = errors.New("run cancelled")

// Signal is the run-wide cancellation flag. It starts unset, can be set
// exactly once, and is never cleared. The first cause wins; later calls to
// Cancel are no-ops.
//
// The zero value is not usable; create one with NewSignal.
type Signal struct {
	done  chan struct{}
	cause error
	once  sync.Once
	mu    sync.RWMutex
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Cancel sets the signal and records cause. It reports whether this call
// was the one that set it.
func (s *Signal) Cancel(cause error) bool {
	if cause == nil {
		cause = ErrCancelled
	}
	set := false
	s.once.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		close(s.done)
		set = true
	})
	return set
}

// Done is closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Cancelled reports whether the signal has been set.
func (s *Signal) Cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the first cause, or nil while the signal is unset.
func (s *Signal) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cause
}
