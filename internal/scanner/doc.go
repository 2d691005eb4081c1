// Package scanner keeps the index converged with the filesystem without
// blocking interactive work.
//
// A Scanner decomposes a full reconciliation of the watched tree into many
// small background-priority submissions to the scheduler. Each pass
// enumerates the tree with the same inclusion rules as foreground indexing,
// then walks the resulting ordered list in batches: one scheduler task per
// batch, a short cooperative sleep between batches. Priority ordering alone
// is not enough to keep search latency low; the per-batch yield is what
// lets queued interactive tasks cut in while a large tree is being scanned.
//
// The scan cursor (ordered file list plus position) lives in process memory
// only. A startup pass always begins at position zero to catch changes made
// while the process was down; a periodic pass resumes from wherever the
// previous pass stopped. Losing the cursor on restart is harmless because
// the per-file fingerprint check makes re-scans idempotent.
package scanner
