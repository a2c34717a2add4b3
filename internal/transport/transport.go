// Package transport holds the socket plumbing shared by the ingress and
// egress roles: accepting a single peer and tying blocking socket calls to
// the run's cancellation signal.
//
// Go's net calls cannot be interrupted by a channel, so cancellation is
// delivered the only way the net package allows: closing the listener
// unblocks Accept, and moving a connection's deadline to "now" unblocks any
// in-progress Read or Write.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dreamware/taskrelay/internal/batch"
)

// ErrAcceptTimeout is returned when no peer connects within the timeout.
var ErrAcceptTimeout = errors.New("timed out waiting for peer connection")

type deadliner interface {
	SetDeadline(t time.Time) error
}

// AcceptOne waits for a single connection on ln.
//
// The wait ends early when ctx is done or sig is cancelled; in that case the
// listener is closed and the returned error is the cancellation cause. A
// positive timeout bounds the wait when the listener supports deadlines.
// The listener is left open on success; callers own it.
func AcceptOne(ctx context.Context, ln net.Listener, sig *batch.Signal, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		if d, ok := ln.(deadliner); ok {
			_ = d.SetDeadline(time.Now().Add(timeout))
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-sig.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	conn, err := ln.Accept()
	if err == nil {
		return conn, nil
	}

	if cause := StopCause(ctx, sig); cause != nil {
		return nil, cause
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil, fmt.Errorf("%w after %s", ErrAcceptTimeout, timeout)
	}
	return nil, err
}

// Watch interrupts conn's pending and future I/O once ctx is done or sig is
// cancelled. The returned function releases the watcher and must be called
// when the connection is no longer used.
func Watch(ctx context.Context, conn net.Conn, sig *batch.Signal) (release func()) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-sig.Done():
		case <-stop:
			return
		}
		_ = conn.SetDeadline(time.Now())
	}()
	return func() { close(stop) }
}

// StopCause returns why the run is stopping, or nil while it is still
// running. Roles use it to tell an I/O error caused by cancellation apart
// from one caused by the peer.
func StopCause(ctx context.Context, sig *batch.Signal) error {
	if sig.Cancelled() {
		return sig.Err()
	}
	return ctx.Err()
}
