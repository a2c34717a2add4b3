// Package main runs the relay service: it accepts one batch of tasks on the
// ingress port, hashes every payload on a pool of workers and streams the
// results back on the egress port, then exits.
//
// Configuration is read from RELAY_* environment variables and an optional
// YAML file named by RELAY_CONFIG (see internal/config). The most common
// settings:
//   - RELAY_HOST: listen interface (default "127.0.0.1")
//   - RELAY_PORT_IN / RELAY_PORT_OUT: ingress and egress ports (5000 / 5001)
//   - RELAY_WORKERS: pool size (default NumCPU-1, at least 1)
//   - RELAY_ROUNDS: hash rounds per task (default 60000)
//   - RELAY_STATUS_ADDR: enables GET /health and GET /stats when set
//
// Example usage:
//
//	RELAY_WORKERS=4 RELAY_LOG_FORMAT=json ./relay
//
//	# from another shell
//	./relayctl submit --file data/players.json
//
// The process exits 0 only when the whole batch was delivered and confirmed
// with DONE; any failure or interruption exits 1, and a configuration error
// exits 2.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/config"
	"github.com/dreamware/taskrelay/internal/logging"
	"github.com/dreamware/taskrelay/internal/server"
)

// exit is a variable so tests can observe the exit code without terminating
// the test process.
var exit = os.Exit

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		exit(2)
		return
	}

	log, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		exit(2)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, server.New(cfg, log), log)
	stop()

	_ = log.Sync()
	exit(code)
}

// run drives srv through a single batch and returns the process exit code.
func run(ctx context.Context, cfg *config.Config, srv *server.Server, log *zap.Logger) int {
	if err := srv.Listen(); err != nil {
		log.Error("cannot bind listeners", zap.Error(err))
		return 1
	}

	if cfg.StatusAddr != "" {
		status, addr, err := startStatus(cfg.StatusAddr, srv.Handler(), log)
		if err != nil {
			log.Error("cannot start status endpoint", zap.Error(err))
			return 1
		}
		log.Info("status endpoint listening", zap.Stringer("addr", addr))
		defer shutdownStatus(status, log)
	}

	if _, err := srv.Run(ctx); err != nil {
		log.Error("batch failed", zap.Error(err))
		return 1
	}
	return 0
}

// startStatus serves h on addr in the background and returns the bound
// address, which differs from addr when the port is 0.
func startStatus(addr string, h http.Handler, log *zap.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen status %s: %w", addr, err)
	}
	s := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("status endpoint stopped", zap.Error(err))
		}
	}()
	return s, ln.Addr(), nil
}

func shutdownStatus(s *http.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Warn("status endpoint shutdown", zap.Error(err))
	}
}
