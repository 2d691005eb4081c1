// Package indexer turns files on disk into stored, searchable units.
//
// The pipeline for one file is read -> fingerprint -> extract -> store
// -> embed. A file whose xxhash fingerprint matches the stored record
// is skipped without re-extraction, and embeddings of units whose
// stable ID survives a re-extraction are never recomputed. The Indexer
// implements the scanner's FileProcessor contract, so the same code
// path serves the startup pass, periodic rescans, watcher events, and
// explicit index requests.
package indexer
