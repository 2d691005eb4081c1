// Package mcp exposes the index over the Model Context Protocol on
// stdio. The server owns the full component stack: storage, scheduler,
// incremental scanner, filesystem watcher, and the access guard that
// yields the database to a concurrently running CLI. Every tool call is
// funneled through the scheduler so interactive queries always run
// ahead of background indexing.
package mcp
