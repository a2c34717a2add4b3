package batch

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrAlreadyPublished is returned when a handoff is published twice.
	ErrAlreadyPublished = errors.New("batch size already published")

	// ErrHandoffTimeout is returned when the size never arrives in time.
	ErrHandoffTimeout = errors.New("timed out waiting for batch size")
)

// Handoff carries the batch size from ingress to egress. It is a
// single-assignment future: Publish succeeds once, and every Wait call
// returns the same value after that.
type Handoff struct {
	ready chan struct{}
	size  int
	once  sync.Once
}

// NewHandoff returns an empty handoff.
func NewHandoff() *Handoff {
	return &Handoff{ready: make(chan struct{})}
}

// Publish stores n and wakes all waiters.
func (h *Handoff) Publish(n int) error {
	published := false
	h.once.Do(func() {
		h.size = n
		close(h.ready)
		published = true
	})
	if !published {
		return ErrAlreadyPublished
	}
	return nil
}

// Published reports whether Publish has been called.
func (h *Handoff) Published() bool {
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the size is published, the signal is cancelled, or ctx
// is done. A ctx deadline surfaces as ErrHandoffTimeout; cancellation
// surfaces as the signal's cause.
//
// If the size is already published, Wait returns it even when the signal is
// also set.
func (h *Handoff) Wait(ctx context.Context, sig *Signal) (int, error) {
	select {
	case <-h.ready:
		return h.size, nil
	default:
	}

	select {
	case <-h.ready:
		return h.size, nil
	case <-sig.Done():
		return 0, sig.Err()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ErrHandoffTimeout
		}
		return 0, ctx.Err()
	}
}
