// Package ingress implements the receiving role of a relay run: it accepts
// the peer's request connection, parses the batch and feeds tasks to the
// worker pool.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/batch"
	"github.com/dreamware/taskrelay/internal/protocol"
	"github.com/dreamware/taskrelay/internal/transport"
)

// Options tunes the receiver.
type Options struct {
	AcceptTimeout time.Duration // Zero waits for a peer indefinitely
	MaxLineBytes  int           // Zero selects protocol.DefaultMaxLineBytes
}

// Receiver owns the ingress listener for exactly one run.
//
// Protocol read sequence:
//  1. Accept one connection; later connection attempts are not serviced
//  2. Read "BEGIN <n>"
//  3. Publish n to the egress role through the handoff
//  4. Read n task lines, sending each Task to the pool
//  5. Read "END"
//
// Whatever happens, Run closes the task channel before returning, which is
// the termination marker every worker waits for, and releases both the
// connection and the listener.
type Receiver struct {
	ln    net.Listener
	log   *zap.Logger
	stats *batch.Stats
	opts  Options
}

// New creates a receiver that takes ownership of ln.
func New(ln net.Listener, log *zap.Logger, stats *batch.Stats, opts Options) *Receiver {
	if log == nil {
		log = zap.NewNop()
	}
	if stats == nil {
		stats = batch.NewStats()
	}
	return &Receiver{
		ln:    ln,
		log:   log.With(zap.String("role", "ingress")),
		stats: stats,
		opts:  opts,
	}
}

// Addr returns the listening address.
func (r *Receiver) Addr() net.Addr { return r.ln.Addr() }

// Run receives one batch.
//
// On a framing or transport error the cancellation signal is set with the
// error as its cause, the task channel is closed and the listener released,
// and then the error is returned. If the run was cancelled by someone else,
// the returned error is the signal's cause.
//
// Parameters:
//   - ctx: stops the receiver when done
//   - tasks: task channel; Run is its only sender and always closes it
//   - handoff: receives the batch size; published at most once
//   - sig: run-wide cancellation signal
func (r *Receiver) Run(ctx context.Context, tasks chan<- batch.Task, handoff *batch.Handoff, sig *batch.Signal) (err error) {
	defer close(tasks)
	defer r.ln.Close()
	defer func() {
		if err != nil {
			if sig.Cancel(err) {
				r.log.Error("receive failed, cancelling run", zap.Error(err))
			} else {
				r.log.Info("receiver stopped", zap.NamedError("cause", err))
			}
		}
		r.log.Info("receiver exiting")
	}()

	r.log.Info("listening", zap.Stringer("addr", r.ln.Addr()))

	conn, err := transport.AcceptOne(ctx, r.ln, sig, r.opts.AcceptTimeout)
	if err != nil {
		return fmt.Errorf("ingress accept: %w", err)
	}
	defer conn.Close()
	_ = r.ln.Close()

	release := transport.Watch(ctx, conn, sig)
	defer release()

	r.log.Info("peer connected", zap.Stringer("remote", conn.RemoteAddr()))
	return r.receive(ctx, protocol.NewReader(conn, r.opts.MaxLineBytes), tasks, handoff, sig)
}

func (r *Receiver) receive(ctx context.Context, rd *protocol.Reader, tasks chan<- batch.Task, handoff *batch.Handoff, sig *batch.Signal) error {
	header, err := r.readLine(ctx, rd, sig, "header")
	if err != nil {
		return err
	}
	n, err := protocol.ParseBegin(header)
	if err != nil {
		return err
	}

	r.stats.SetExpected(n)
	if err := handoff.Publish(n); err != nil {
		return err
	}
	r.log.Info("batch announced", zap.Int("size", n))

	for i := 0; i < n; i++ {
		line, err := r.readLine(ctx, rd, sig, "task")
		if err != nil {
			return err
		}
		task, err := protocol.ParseTask(line)
		if err != nil {
			return fmt.Errorf("task %d of %d: %w", i+1, n, err)
		}

		select {
		case tasks <- task:
			r.stats.AddReceived()
		case <-sig.Done():
			return sig.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	end, err := r.readLine(ctx, rd, sig, "end marker")
	if err != nil {
		return err
	}
	if err := protocol.CheckEnd(end); err != nil {
		return err
	}

	r.log.Info("batch received", zap.Int("tasks", n))
	return nil
}

// readLine reads one line, reporting a cancellation cause in preference to
// the I/O error it produced.
func (r *Receiver) readLine(ctx context.Context, rd *protocol.Reader, sig *batch.Signal, what string) (string, error) {
	line, err := rd.ReadLine()
	if err == nil {
		return line, nil
	}
	if cause := transport.StopCause(ctx, sig); cause != nil {
		return "", cause
	}
	if errors.Is(err, protocol.ErrLineTooLong) {
		return "", fmt.Errorf("%w: %s: %w", protocol.ErrFraming, what, err)
	}
	return "", fmt.Errorf("ingress read %s: %w", what, err)
}
