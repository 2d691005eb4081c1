// Package embedder generates vector embeddings for code units.
//
// Two providers are available. The openai provider talks to any
// OpenAI-compatible /v1/embeddings endpoint (OpenAI itself, Ollama,
// LM Studio, vLLM) with exponential-backoff retry. The local provider
// derives a deterministic unit-length vector from the text content; it
// needs no network and no key, which makes it the default, and its
// determinism makes search results reproducible in tests.
//
// Both providers share an LRU cache keyed by a fast content hash, so
// re-indexing an unchanged unit never pays for a second embedding.
package embedder
