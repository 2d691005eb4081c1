// Package searcher answers queries over the stored index. Three modes
// are offered: keyword (full-text ranking), semantic (embed the query,
// rank by cosine similarity), and hybrid (both, fused with Reciprocal
// Rank Fusion). Responses are cached with a TTL so repeated
// interactive queries skip the embedding round trip.
package searcher
