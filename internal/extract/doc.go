// Package extract turns source files into indexable units.
//
// Go files are parsed with go/ast and yield one unit per top-level
// declaration: functions, methods, and named types. A unit's body spans
// the declaration including its doc comment, so the text that gets
// embedded carries the author's own description of the code.
//
// Files the Go parser cannot handle, and non-Go text files in general,
// fall back to fixed-window line chunking with overlap between adjacent
// windows. Binary content is rejected with ErrBinaryFile so callers can
// record the file as skipped rather than failed.
package extract
