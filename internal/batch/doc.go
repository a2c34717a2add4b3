// Package batch defines the data that flows through a relay run and the
// small coordination primitives shared by its roles.
//
// # Data
//
// A run processes exactly one batch. The ingress role turns each request
// line into a Task; a worker turns each Task into a Result carrying the same
// index; the egress role writes each Result back to the peer. Results are
// correlated with tasks only by index, never by position.
//
// # Coordination
//
// Three primitives connect the roles besides the task and result channels:
//
//   - Handoff: a single-assignment future carrying the batch size from
//     ingress to egress.
//   - Signal: a monotonic, broadcast cancellation flag. Cancelling closes a
//     channel, so every goroutine selecting on Done wakes at once.
//   - Stats: lock-free counters the server reports while the run progresses.
//
// None of these hold a lock across network I/O.
package batch
