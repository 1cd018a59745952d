package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// chunkScope joins a chunk aliased c to its documentation, element and file
const chunkScope = `
	JOIN documentation d ON d.id = c.documentation_id` + docProjectJoin

// nearest returns the k chunks most similar to vector. Filters are applied
// before ranking; ties are broken by ascending chunk ID.
func nearest(ctx context.Context, q querier, vecEnabled bool, vector []float32, k int, filters *SearchFilters) ([]VectorResult, error) {
	if k <= 0 || len(vector) == 0 {
		return []VectorResult{}, nil
	}
	// Use optimized SQL-based search when sqlite-vec is available
	if vecEnabled {
		return nearestOptimized(ctx, q, vector, k, filters)
	}
	// Fall back to Go-based computation
	return nearestFallback(ctx, q, vector, k, filters)
}

// nearestOptimized uses sqlite-vec extension for SQL-based vector similarity search
func nearestOptimized(ctx context.Context, q querier, vector []float32, k int, filters *SearchFilters) ([]VectorResult, error) {
	blob := serializeVector(vector)

	// vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT c.id, 1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id` + chunkScope + `
		WHERE e.dimension = ?
	`
	args := []interface{}{blob, len(vector)}
	query, args = applyFilters(query, args, filters, true)

	if filters != nil && filters.MinRelevance > 0 {
		query += " AND (1.0 - vec_distance_cosine(e.vector, ?)) >= ?"
		args = append(args, blob, filters.MinRelevance)
	}

	query += " ORDER BY similarity DESC, c.id ASC LIMIT ?"
	args = append(args, k)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, k)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.ChunkID, &result.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// nearestFallback performs vector search using Go-based cosine similarity computation
func nearestFallback(ctx context.Context, q querier, vector []float32, k int, filters *SearchFilters) ([]VectorResult, error) {
	query := `
		SELECT c.id, e.vector
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id` + chunkScope + `
		WHERE e.dimension = ?
	`
	args := []interface{}{len(vector)}
	query, args = applyFilters(query, args, filters, true)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, vector, filters)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return buildVectorResults(candidates, k), nil
}

// searchText performs BM25 full-text search over chunk text and documentation titles
func searchText(ctx context.Context, q querier, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" || limit <= 0 {
		return []TextResult{}, nil
	}

	sqlQuery := `
		SELECT c.id, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid` + chunkScope + `
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{sanitized}
	sqlQuery, args = applyFilters(sqlQuery, args, filters, false)

	// Lower BM25 is better
	sqlQuery += " ORDER BY score, c.id LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows, filters)
}

// Helper functions

// applyFilters adds WHERE clause filters shared by vector and text search.
// withModel restricts to embeddings from filters.Model and requires the
// embeddings table to be joined as e.
func applyFilters(query string, args []interface{}, filters *SearchFilters, withModel bool) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.ProjectID > 0 {
		query += " AND " + docProjectExpr + " = ?"
		args = append(args, filters.ProjectID)
	}

	query, args = applyIn(query, args, "ce.kind", filters.ElementKinds)
	query, args = applyIn(query, args, "d.doc_type", filters.DocTypes)
	query, args = applyIn(query, args, "c.role", filters.Roles)

	if filters.FilePattern != "" {
		query += " AND f.file_path GLOB ?"
		args = append(args, filters.FilePattern)
	}

	if withModel && filters.Model != "" {
		query += " AND e.model = ?"
		args = append(args, filters.Model)
	}

	if filters.ExcludeLowQuality {
		query += " AND d.low_quality = 0"
	}

	return query, args
}

// applyIn adds "AND column IN (...)" for non-empty values
func applyIn(query string, args []interface{}, column string, values []string) (string, []interface{}) {
	if len(values) == 0 || (len(values) == 1 && values[0] == "") {
		return query, args
	}
	query += " AND " + column + " IN (" + placeholders(len(values)) + ")"
	for _, v := range values {
		args = append(args, v)
	}
	return query, args
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *SearchFilters) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var chunkID int64
		var vectorBlob []byte
		if err := rows.Scan(&chunkID, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue
		}

		similarity := cosineSimilarity(queryVector, vector)
		if filters != nil && filters.MinRelevance > 0 && similarity < filters.MinRelevance {
			continue
		}

		candidates = append(candidates, candidate{chunkID: chunkID, score: similarity})
	}

	return candidates, rows.Err()
}

// buildVectorResults creates VectorResult slice from sorted candidates
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	if limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{
			ChunkID:         candidates[i].chunkID,
			SimilarityScore: candidates[i].score,
		}
	}
	return results
}

// collectTextResults processes text search results and normalizes scores
func collectTextResults(rows *sql.Rows, filters *SearchFilters) ([]TextResult, error) {
	results := make([]TextResult, 0)

	for rows.Next() {
		var result TextResult
		if err := rows.Scan(&result.ChunkID, &result.BM25Score); err != nil {
			return nil, err
		}

		// BM25 scores are negative with lower being better, typically in [-50, 0]
		result.BM25Score = NormalizeBM25(result.BM25Score)

		if filters != nil && filters.MinRelevance > 0 && result.BM25Score < filters.MinRelevance {
			continue
		}

		results = append(results, result)
	}

	return results, rows.Err()
}

// NormalizeBM25 maps a raw FTS5 bm25 value into (0, 1]
func NormalizeBM25(raw float64) float64 {
	return 1.0 / (1.0 + math.Abs(raw)/50.0)
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate represents a chunk with its similarity score
type candidate struct {
	chunkID int64
	score   float64
}

// sortCandidates orders by score descending, then chunk ID ascending
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
}

var ftsTermPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// sanitizeFTSQuery turns free text into an FTS5 query that matches any of
// its terms. Every term is quoted so operators and syntax characters in the
// input are treated as plain words.
func sanitizeFTSQuery(query string) string {
	terms := ftsTermPattern.FindAllString(query, -1)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + term + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity returns the cosine similarity of two equal-length vectors, or 0
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
