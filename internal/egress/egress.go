// Package egress implements the sending role of a relay run: it accepts the
// peer's result connection and streams results back as workers produce them.
package egress

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/batch"
	"github.com/dreamware/taskrelay/internal/protocol"
	"github.com/dreamware/taskrelay/internal/transport"
)

// ErrResultsExhausted is the cancellation cause when the pool stops
// producing results before the announced count was reached, for example
// because workers were retired by compute failures.
var ErrResultsExhausted = errors.New("result stream ended before batch was complete")

// Options tunes the sender.
type Options struct {
	AcceptTimeout  time.Duration // Zero waits for a peer indefinitely
	HandoffTimeout time.Duration // Zero waits for the batch size indefinitely
}

// Report describes what the sender actually delivered.
type Report struct {
	Expected int  // Batch size from the handoff; zero if never received
	Sent     int  // Result lines written
	Done     bool // Whether the DONE marker was written
}

// Sender owns the egress listener for exactly one run.
type Sender struct {
	ln    net.Listener
	log   *zap.Logger
	stats *batch.Stats
	opts  Options
}

// New creates a sender that takes ownership of ln.
func New(ln net.Listener, log *zap.Logger, stats *batch.Stats, opts Options) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	if stats == nil {
		stats = batch.NewStats()
	}
	return &Sender{
		ln:    ln,
		log:   log.With(zap.String("role", "egress")),
		stats: stats,
		opts:  opts,
	}
}

// Addr returns the listening address.
func (s *Sender) Addr() net.Addr { return s.ln.Addr() }

// Run sends one batch of results.
//
// Sequence:
//  1. Accept one connection
//  2. Wait for the batch size n from the handoff
//  3. Write "RESULTS <n>"
//  4. Write "<index>;<value>" for each result until n were sent or the run
//     is cancelled
//  5. Write "DONE" only if all n were sent without cancellation
//
// Transport failures cancel the run and are logged, not returned: the
// Report tells the caller how far the sender got. The only error returned
// is a handoff timeout, which also cancels the run.
func (s *Sender) Run(ctx context.Context, results <-chan batch.Result, handoff *batch.Handoff, sig *batch.Signal) (rep Report, err error) {
	defer s.ln.Close()
	defer func() {
		s.log.Info("sender exiting",
			zap.Int("sent", rep.Sent), zap.Int("expected", rep.Expected), zap.Bool("done", rep.Done))
	}()

	s.log.Info("listening", zap.Stringer("addr", s.ln.Addr()))

	conn, err := transport.AcceptOne(ctx, s.ln, sig, s.opts.AcceptTimeout)
	if err != nil {
		s.absorb(ctx, sig, "accept", err)
		return rep, nil
	}
	defer conn.Close()
	_ = s.ln.Close()

	release := transport.Watch(ctx, conn, sig)
	defer release()

	s.log.Info("peer connected", zap.Stringer("remote", conn.RemoteAddr()))

	n, err := s.waitSize(ctx, handoff, sig)
	if err != nil {
		if errors.Is(err, batch.ErrHandoffTimeout) {
			sig.Cancel(err)
			s.log.Error("batch size never arrived, cancelling run",
				zap.Duration("timeout", s.opts.HandoffTimeout))
			return rep, err
		}
		s.log.Info("stopped before batch size arrived", zap.NamedError("cause", err))
		return rep, nil
	}
	rep.Expected = n

	w := protocol.NewWriter(conn)
	if err := w.WriteLine(protocol.FormatResults(n)); err != nil {
		s.absorb(ctx, sig, "write header", err)
		return rep, nil
	}

loop:
	for rep.Sent < n && !sig.Cancelled() {
		select {
		case res, ok := <-results:
			if !ok {
				if sig.Cancel(ErrResultsExhausted) {
					s.log.Error("result stream ended early, cancelling run",
						zap.Int("sent", rep.Sent), zap.Int("expected", n))
				}
				break loop
			}
			if err := w.WriteLine(protocol.FormatResult(res)); err != nil {
				s.absorb(ctx, sig, "write result", err)
				return rep, nil
			}
			rep.Sent++
			s.stats.AddSent()
		case <-sig.Done():
			break loop
		}
	}

	if rep.Sent == n && !sig.Cancelled() {
		if err := w.WriteLine(protocol.Done); err != nil {
			s.absorb(ctx, sig, "write done", err)
			return rep, nil
		}
		rep.Done = true
	}
	return rep, nil
}

func (s *Sender) waitSize(ctx context.Context, handoff *batch.Handoff, sig *batch.Signal) (int, error) {
	if s.opts.HandoffTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.HandoffTimeout)
		defer cancel()
	}
	return handoff.Wait(ctx, sig)
}

// absorb handles a transport error: it cancels the run unless the error was
// itself caused by cancellation, and logs it.
func (s *Sender) absorb(ctx context.Context, sig *batch.Signal, op string, err error) {
	if cause := transport.StopCause(ctx, sig); cause != nil {
		s.log.Info("stopped", zap.String("op", op), zap.NamedError("cause", cause))
		return
	}
	sig.Cancel(err)
	s.log.Error("transport error, cancelling run", zap.String("op", op), zap.Error(err))
}
