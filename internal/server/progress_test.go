package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/taskrelay/internal/batch"
)

func TestProgressMonitorReports(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	stats := batch.NewStats()
	stats.SetExpected(4)
	stats.AddReceived()

	m := NewProgressMonitor(10*time.Millisecond, zap.New(core), stats.Snapshot, func() State { return StateRolesStarted })
	m.Start(context.Background())
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("progress").Len() >= 1
	}, time.Second, 5*time.Millisecond)

	entry := logs.FilterMessage("progress").All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, int64(4), fields["expected"])
	assert.Equal(t, uint64(1), fields["received"])
	assert.Equal(t, string(StateRolesStarted), fields["state"])
	assert.Equal(t, "progress", fields["role"])
}

func TestProgressMonitorSkipsUnchanged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	stats := batch.NewStats()

	m := NewProgressMonitor(5*time.Millisecond, zap.New(core), stats.Snapshot, nil)
	m.Start(context.Background())

	assert.Eventually(t, func() bool { return m.Ticks() >= 5 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("progress").Len())

	stats.AddComputed()
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("progress").Len() == 2
	}, time.Second, time.Millisecond)

	m.Stop()
}

func TestProgressMonitorStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewProgressMonitor(time.Millisecond, nil, batch.NewStats().Snapshot, nil)
	m.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
