// Package storage persists the index in a single SQLite database.
//
// The schema has three tables: files (one row per indexed file, keyed by
// its root-relative path and carrying the xxhash64 content fingerprint),
// units (the extracted code units of a file), and embeddings (one vector
// per unit and model). An FTS5 shadow table over unit bodies backs
// keyword search; vector search runs over the embedding blobs.
//
// Two drivers are supported, selected at build time:
//
//	CGO_ENABLED=0 go build ./...                     modernc.org/sqlite (pure Go)
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...    mattn/go-sqlite3 + sqlite-vec
//
// With sqlite-vec available, vector similarity is computed in SQL;
// otherwise candidates are scored with cosine similarity in Go. Results
// are identical, the pure Go path is just slower on large indexes.
//
// The database runs in WAL mode with a single connection: SQLite wants a
// single writer, and the scheduler already serializes index mutations.
package storage
