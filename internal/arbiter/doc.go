// Package arbiter coordinates exclusive database access between a running
// server process and short-lived command-line invocations sharing the same
// database file.
//
// The storage engine allows only one writer per database at a time. A
// one-off run (bulk reindex, maintenance) must therefore borrow access from
// a live server and hand it back, rather than opening the file alongside it.
// The handshake is an explicit request, acknowledge, release sequence, so
// the server can finish in-flight writes cleanly instead of being preempted
// by an OS lock.
//
// Two roles implement the protocol:
//
//   - Guard runs inside the server. It registers the server's PID next to
//     the database, watches for access requests, pauses the server's write
//     task submission when one arrives, acknowledges the release, and
//     resumes once the requester signals completion (or dies).
//
//   - Requester runs inside a command-line invocation. If no live server is
//     registered it proceeds immediately. Otherwise it posts a request,
//     waits up to a deadline for acknowledgment, and fails with an
//     actionable error when none arrives. Release is unconditional: it runs
//     on every exit path, including failures and panics, via Run.
//
// Requests are serialized. A pending request from a live run is waited out
// rather than overwritten, and the acknowledgment names the run it grants,
// so a handoff can never admit more than one external holder.
//
// State crosses the process boundary only through marker files in a
// coordination directory derived from the database path. On Unix, SIGUSR1
// and SIGUSR2 are additionally sent as prompt nudges, but the marker files
// remain the source of truth: a missed signal degrades to polling latency,
// never to incorrect state.
//
// A requester that crashes before releasing cannot wedge the server: the
// Guard validates that the recorded requester PID is still alive and treats
// a dead holder as an implicit release after a bounded grace period.
package arbiter
