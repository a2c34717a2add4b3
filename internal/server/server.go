package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/batch"
	"github.com/dreamware/taskrelay/internal/compute"
	"github.com/dreamware/taskrelay/internal/config"
	"github.com/dreamware/taskrelay/internal/egress"
	"github.com/dreamware/taskrelay/internal/ingress"
	"github.com/dreamware/taskrelay/internal/pool"
)

var (
	// ErrRunFinished is the cause recorded on the signal after both roles
	// have returned. It releases anything still waiting and is never
	// reported as a failure.
	ErrRunFinished = errors.New("run finished")

	// ErrAlreadyRan is returned by a second call to Run.
	ErrAlreadyRan = errors.New("server already ran")
)

// State is a step of the run lifecycle.
type State string

const (
	StateInit           State = "INIT"
	StateWorkersStarted State = "WORKERS_STARTED"
	StateRolesStarted   State = "ROLES_STARTED"
	StateIngressDone    State = "INGRESS_DONE"
	StateEgressDone     State = "EGRESS_DONE"
	StateWorkersDrained State = "WORKERS_DRAINED"
	StateStopped        State = "STOPPED"
)

// Summary describes a finished run.
type Summary struct {
	RunID            uuid.UUID     `json:"run_id"`
	Cause            string        `json:"cause,omitempty"`
	BatchSize        int           `json:"batch_size"`
	Sent             int           `json:"sent"`
	Workers          int           `json:"workers"`
	WorkersFailed    int           `json:"workers_failed"`
	WorkersAbandoned int           `json:"workers_abandoned"`
	Elapsed          time.Duration `json:"elapsed"`
	Done             bool          `json:"done"`
}

// Server runs exactly one batch.
type Server struct {
	cfg       *config.Config
	log       *zap.Logger
	stats     *batch.Stats
	fn        compute.Func
	ingressLn net.Listener
	egressLn  net.Listener
	state     State
	runID     uuid.UUID
	mu        sync.RWMutex
	ran       atomic.Bool
}

// New creates a server for cfg. The compute function defaults to
// compute.SHA256.
func New(cfg *config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	return &Server{
		cfg:   cfg,
		log:   log.With(zap.String("run", id.String())),
		stats: batch.NewStats(),
		fn:    compute.SHA256,
		state: StateInit,
		runID: id,
	}
}

// SetComputeFunc replaces the compute function. It must be called before Run.
func (s *Server) SetComputeFunc(fn compute.Func) {
	s.fn = fn
}

// RunID identifies this run in logs and status output.
func (s *Server) RunID() uuid.UUID { return s.runID }

// Stats returns the live counters.
func (s *Server) Stats() *batch.Stats { return s.stats }

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.log.Debug("state change", zap.String("from", string(prev)), zap.String("to", string(st)))
}

// Listen binds both listeners. Run calls it when it has not been called;
// calling it first lets the caller learn the addresses when ports are
// chosen by the OS.
func (s *Server) Listen() error {
	if s.ingressLn != nil {
		return nil
	}
	in, err := net.Listen("tcp", s.cfg.IngressAddr())
	if err != nil {
		return fmt.Errorf("listen ingress %s: %w", s.cfg.IngressAddr(), err)
	}
	out, err := net.Listen("tcp", s.cfg.EgressAddr())
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("listen egress %s: %w", s.cfg.EgressAddr(), err)
	}
	s.ingressLn, s.egressLn = in, out
	return nil
}

// IngressAddr returns the bound ingress address, or nil before Listen.
func (s *Server) IngressAddr() net.Addr {
	if s.ingressLn == nil {
		return nil
	}
	return s.ingressLn.Addr()
}

// EgressAddr returns the bound egress address, or nil before Listen.
func (s *Server) EgressAddr() net.Addr {
	if s.egressLn == nil {
		return nil
	}
	return s.egressLn.Addr()
}

// Run processes one batch and blocks until every role has stopped.
//
// The returned error is nil only when the batch completed: all announced
// results were sent followed by DONE. Otherwise it is the ingress error or
// the first cancellation cause. Cancelling ctx cancels the run.
func (s *Server) Run(ctx context.Context) (Summary, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRan
	}
	if err := s.Listen(); err != nil {
		return Summary{RunID: s.runID}, err
	}

	start := time.Now()
	sig := batch.NewSignal()
	handoff := batch.NewHandoff()
	tasks := make(chan batch.Task, s.cfg.Workers)
	results := make(chan batch.Result, s.cfg.Workers)

	stopWatch := context.AfterFunc(ctx, func() { sig.Cancel(ctx.Err()) })
	defer stopWatch()

	workers := pool.New(s.cfg.Workers, s.fn, s.cfg.Rounds, s.log, s.stats)
	workers.Start(tasks, results, sig)
	s.setState(StateWorkersStarted)

	var monitor *ProgressMonitor
	if s.cfg.ProgressInterval > 0 {
		monitor = NewProgressMonitor(s.cfg.ProgressInterval, s.log, s.stats.Snapshot, s.State)
		monitor.Start(ctx)
	}

	recv := ingress.New(s.ingressLn, s.log, s.stats, ingress.Options{
		AcceptTimeout: s.cfg.AcceptTimeout,
		MaxLineBytes:  s.cfg.MaxLineBytes,
	})
	send := egress.New(s.egressLn, s.log, s.stats, egress.Options{
		AcceptTimeout:  s.cfg.AcceptTimeout,
		HandoffTimeout: s.cfg.HandoffTimeout,
	})

	var (
		wg         sync.WaitGroup
		ingressErr error
		egressErr  error
		rep        egress.Report
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ingressErr = recv.Run(ctx, tasks, handoff, sig)
		s.setState(StateIngressDone)
	}()
	go func() {
		defer wg.Done()
		rep, egressErr = send.Run(ctx, results, handoff, sig)
		s.setState(StateEgressDone)
	}()
	s.setState(StateRolesStarted)
	s.log.Info("run started",
		zap.Stringer("ingress", s.IngressAddr()), zap.Stringer("egress", s.EgressAddr()),
		zap.Int("workers", s.cfg.Workers), zap.Int("rounds", s.cfg.Rounds))

	wg.Wait()

	cause := sig.Err()
	sig.Cancel(ErrRunFinished)

	drained := workers.Wait(s.cfg.JoinGrace)
	s.setState(StateWorkersDrained)
	if monitor != nil {
		monitor.Stop()
	}

	sum := Summary{
		RunID:         s.runID,
		BatchSize:     rep.Expected,
		Sent:          rep.Sent,
		Done:          rep.Done,
		Workers:       workers.Size(),
		WorkersFailed: workers.Failed(),
		Elapsed:       time.Since(start),
	}
	if !drained {
		sum.WorkersAbandoned = workers.Alive()
	}

	err := firstError(ingressErr, egressErr, cause)
	if err == nil && !rep.Done {
		err = errors.New("batch incomplete")
	}
	if err != nil {
		sum.Cause = err.Error()
	}

	s.setState(StateStopped)
	s.logSummary(sum)
	return sum, err
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) logSummary(sum Summary) {
	fields := []zap.Field{
		zap.Int("batch_size", sum.BatchSize),
		zap.Int("sent", sum.Sent),
		zap.Bool("done", sum.Done),
		zap.Int("workers", sum.Workers),
		zap.Int("workers_failed", sum.WorkersFailed),
		zap.Int("workers_abandoned", sum.WorkersAbandoned),
		zap.Duration("elapsed", sum.Elapsed),
	}
	if sum.Cause != "" {
		s.log.Warn("run stopped early", append(fields, zap.String("cause", sum.Cause))...)
		return
	}
	s.log.Info("run complete", fields...)
}
