// Package cli implements the semdex command line. One-shot commands
// (index, search, status) borrow exclusive database access from a
// running MCP server through the arbiter handshake; the mcp command
// starts the long-running server that answers those handshakes.
package cli
