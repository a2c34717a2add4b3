// Package server drives a single relay run: it owns both listeners, starts
// the worker pool, runs the ingress and egress roles concurrently and shuts
// everything down in order.
//
// # Lifecycle
//
// A run moves through these states exactly once:
//
//	INIT → WORKERS_STARTED → ROLES_STARTED
//	     → INGRESS_DONE / EGRESS_DONE (either order)
//	     → WORKERS_DRAINED → STOPPED
//
// STOPPED is reached only after both roles have returned and every worker
// has been joined or, after the join grace period, abandoned.
//
// # Failure handling
//
// Any role that hits an unrecoverable error sets the shared cancellation
// signal. The signal is a broadcast: the other role, the workers, the size
// handoff and any blocked socket call all observe it. Errors are absorbed
// at role boundaries; the only externally visible failure is the error
// returned by Run once everything has stopped.
//
// # Observability
//
// A progress monitor logs the run counters periodically, and Handler exposes
// /health and /stats for an optional HTTP status endpoint.
package server
