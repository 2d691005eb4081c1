package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// SearchText runs FTS5 keyword search over unit names and bodies. BM25
// scores (negative, lower is better) are normalized into (0, 1] so the
// searcher can fuse them with vector similarities.
func (s *SQLite) SearchText(ctx context.Context, query string, limit int) ([]TextHit, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		return nil, nil
	}

	sqlQuery := "SELECT " + unitColumns + `, bm25(units_fts) AS score
		FROM units_fts
		INNER JOIN units u ON units_fts.rowid = u.id
		WHERE units_fts MATCH ?
		ORDER BY score
		LIMIT ?`
	rows, err := db.QueryContext(ctx, sqlQuery, sanitized, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []TextHit
	for rows.Next() {
		var h TextHit
		var kind string
		var bm25 float64
		err := rows.Scan(&h.Unit.ID, &h.Unit.FileID, &h.Unit.StableID, &kind,
			&h.Unit.Name, &h.Unit.StartLine, &h.Unit.EndLine, &h.Unit.Body, &bm25)
		if err != nil {
			return nil, err
		}
		h.Unit.Kind = unitKind(kind)
		h.Score = 1.0 / (1.0 + math.Abs(bm25)/50.0)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchVector ranks every embedded unit by cosine similarity to the
// query vector and returns the top results. With sqlite-vec compiled in
// the ranking happens in SQL; otherwise candidates are scored in Go.
func (s *SQLite) SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorHit, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		return nil, nil
	}

	if VectorExtensionAvailable {
		return searchVectorSQL(ctx, db, vector, limit)
	}
	return searchVectorFallback(ctx, db, vector, limit)
}

func searchVectorSQL(ctx context.Context, db queryer, vector []float32, limit int) ([]VectorHit, error) {
	blob := serializeVector(vector)
	query := "SELECT " + unitColumns + `, 1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM units u
		INNER JOIN embeddings e ON e.unit_id = u.id
		WHERE e.dimension = ?
		ORDER BY similarity DESC
		LIMIT ?`
	rows, err := db.QueryContext(ctx, query, blob, len(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		var kind string
		err := rows.Scan(&h.Unit.ID, &h.Unit.FileID, &h.Unit.StableID, &kind,
			&h.Unit.Name, &h.Unit.StartLine, &h.Unit.EndLine, &h.Unit.Body, &h.Similarity)
		if err != nil {
			return nil, err
		}
		h.Unit.Kind = unitKind(kind)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func searchVectorFallback(ctx context.Context, db queryer, vector []float32, limit int) ([]VectorHit, error) {
	query := "SELECT " + unitColumns + `, e.vector
		FROM units u
		INNER JOIN embeddings e ON e.unit_id = u.id
		WHERE e.dimension = ?`
	rows, err := db.QueryContext(ctx, query, len(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		var kind string
		var blob []byte
		err := rows.Scan(&h.Unit.ID, &h.Unit.FileID, &h.Unit.StableID, &kind,
			&h.Unit.Name, &h.Unit.StartLine, &h.Unit.EndLine, &h.Unit.Body, &blob)
		if err != nil {
			return nil, err
		}
		candidate := deserializeVector(blob)
		if len(candidate) != len(vector) {
			continue
		}
		h.Unit.Kind = unitKind(kind)
		h.Similarity = cosineSimilarity(vector, candidate)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortHitsByScore(hits,
		func(h VectorHit) float64 { return h.Similarity },
		func(h VectorHit) int64 { return h.Unit.ID })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// serializeVector encodes a float32 slice little-endian, the layout
// sqlite-vec expects.
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var ftsOperatorPattern = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)

// sanitizeFTSQuery escapes FTS5 operators so user input is always treated
// as plain terms.
func sanitizeFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		`"`, `""`,
		`*`, ` `,
		`(`, ` `,
		`)`, ` `,
		`:`, ` `,
		`^`, ` `,
	)
	escaped := replacer.Replace(query)
	escaped = ftsOperatorPattern.ReplaceAllStringFunc(escaped, strings.ToLower)

	fields := strings.Fields(escaped)
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " ")
}

// SerializeVector is exported for tests and the embedder cache key.
func SerializeVector(vector []float32) []byte { return serializeVector(vector) }

// DeserializeVector is the inverse of SerializeVector.
func DeserializeVector(blob []byte) []float32 { return deserializeVector(blob) }

// CosineSimilarity is exported for tests.
func CosineSimilarity(a, b []float32) float64 { return cosineSimilarity(a, b) }
