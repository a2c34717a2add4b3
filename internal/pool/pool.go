// Package pool runs the fixed-size set of workers that turn tasks into
// results.
//
// A worker is a pure transform stage: it receives a Task, calls the compute
// function, and sends a Result. It does no I/O and shares no state with
// other workers beyond the two channels.
//
// Lifecycle:
//
//	tasks closed      → every worker exits cleanly, no result emitted
//	signal cancelled  → a worker blocked on sending drops its result and exits
//	compute failure   → that worker exits for good; the pool shrinks by one
//	last worker exits → the results channel is closed
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/batch"
	"github.com/dreamware/taskrelay/internal/compute"
)

// Pool is a fixed-size worker pool for one run. It is started once.
type Pool struct {
	fn      compute.Func
	log     *zap.Logger
	stats   *batch.Stats
	drained chan struct{}
	wg      sync.WaitGroup
	size    int
	rounds  int
	alive   atomic.Int32
	failed  atomic.Int32
	started atomic.Bool
}

// New creates a pool of size workers calling fn with rounds.
//
// Parameters:
//   - size: number of workers (values below 1 are raised to 1)
//   - fn: compute function; an error or panic retires the calling worker
//   - rounds: repetition count forwarded to fn
//   - log: logger; nil selects a no-op logger
//   - stats: shared counters; nil allocates private ones
func New(size int, fn compute.Func, rounds int, log *zap.Logger, stats *batch.Stats) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if stats == nil {
		stats = batch.NewStats()
	}
	return &Pool{
		fn:      fn,
		log:     log.With(zap.String("role", "pool")),
		stats:   stats,
		drained: make(chan struct{}),
		size:    size,
		rounds:  rounds,
	}
}

// Size returns the configured number of workers.
func (p *Pool) Size() int { return p.size }

// Alive returns the number of workers that have not exited yet.
func (p *Pool) Alive() int { return int(p.alive.Load()) }

// Failed returns the number of workers retired by a compute failure.
func (p *Pool) Failed() int { return int(p.failed.Load()) }

// Start launches the workers. results is closed by the pool once every
// worker has exited, so the pool must be its only sender. Calling Start
// twice panics.
func (p *Pool) Start(tasks <-chan batch.Task, results chan<- batch.Result, sig *batch.Signal) {
	if !p.started.CompareAndSwap(false, true) {
		panic("pool: Start called twice")
	}

	p.alive.Store(int32(p.size))
	p.wg.Add(p.size)
	for id := 0; id < p.size; id++ {
		go p.worker(id, tasks, results, sig)
	}

	go func() {
		p.wg.Wait()
		close(results)
		close(p.drained)
	}()

	p.log.Info("workers started", zap.Int("workers", p.size), zap.Int("rounds", p.rounds))
}

// Wait joins the workers, giving up after grace. It reports whether every
// worker exited; workers still running after grace are abandoned.
func (p *Pool) Wait(grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.drained:
		return true
	case <-timer.C:
		p.log.Warn("abandoning workers after grace period",
			zap.Int("still_running", p.Alive()), zap.Duration("grace", grace))
		return false
	}
}

func (p *Pool) worker(id int, tasks <-chan batch.Task, results chan<- batch.Result, sig *batch.Signal) {
	defer p.wg.Done()
	defer p.alive.Add(-1)

	log := p.log.With(zap.Int("worker", id))

	for task := range tasks {
		if sig.Cancelled() {
			log.Debug("run cancelled, worker exiting")
			return
		}
		value, err := p.run(task)
		if err != nil {
			p.failed.Add(1)
			p.stats.AddFailed()
			log.Error("compute failed, retiring worker",
				zap.Uint64("index", task.Index), zap.Error(err))
			return
		}
		p.stats.AddComputed()

		select {
		case results <- batch.Result{Index: task.Index, Value: value}:
		case <-sig.Done():
			log.Debug("run cancelled, dropping result", zap.Uint64("index", task.Index))
			return
		}
	}
	log.Debug("task channel closed, worker exiting")
}

// run calls the compute function, converting a panic into an error.
func (p *Pool) run(task batch.Task) (value uint32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compute panicked: %v", r)
		}
	}()
	return p.fn(task.Payload, p.rounds)
}
