package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/batch"
)

// ProgressMonitor periodically logs the run counters so a long batch shows
// signs of life. Thread-safe: Start and Stop may be called from different
// goroutines.
type ProgressMonitor struct {
	log      *zap.Logger
	snapshot func() batch.Snapshot // Source of counters
	state    func() State          // Source of the lifecycle state
	ctx      context.Context       // Internal context for Stop
	cancel   context.CancelFunc
	last     batch.Snapshot // Most recently reported counters
	interval time.Duration
	wg       sync.WaitGroup
	mu       sync.Mutex
	ticks    int
}

// NewProgressMonitor creates a monitor that reports every interval.
//
// Parameters:
//   - interval: time between reports
//   - log: destination logger
//   - snapshot: returns the current counters
//   - state: returns the current lifecycle state; may be nil
//
// Example:
//
//	monitor := NewProgressMonitor(time.Second, log, stats.Snapshot, srv.State)
//	monitor.Start(ctx)
//	defer monitor.Stop()
func NewProgressMonitor(interval time.Duration, log *zap.Logger, snapshot func() batch.Snapshot, state func() State) *ProgressMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = zap.NewNop()
	}
	return &ProgressMonitor{
		log:      log.With(zap.String("role", "progress")),
		snapshot: snapshot,
		state:    state,
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
	}
}

// Start launches the reporting goroutine. It stops when ctx is done or Stop
// is called.
func (m *ProgressMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts reporting and waits for the goroutine to exit.
func (m *ProgressMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Ticks returns how many reports have been made.
func (m *ProgressMonitor) Ticks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

func (m *ProgressMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.report()
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// report logs the counters, skipping the line when nothing moved since the
// previous report.
func (m *ProgressMonitor) report() {
	snap := m.snapshot()

	m.mu.Lock()
	m.ticks++
	unchanged := m.ticks > 1 && snap == m.last
	m.last = snap
	m.mu.Unlock()

	if unchanged {
		return
	}

	fields := []zap.Field{
		zap.Int64("expected", snap.Expected),
		zap.Uint64("received", snap.Received),
		zap.Uint64("computed", snap.Computed),
		zap.Uint64("sent", snap.Sent),
		zap.Uint64("failed", snap.Failed),
	}
	if m.state != nil {
		fields = append(fields, zap.String("state", string(m.state())))
	}
	m.log.Info("progress", fields...)
}
