package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedSearchData commits three documented elements with 2-d vectors
func seedSearchData(t *testing.T, s *SQLiteStorage) (*Project, map[string]int64) {
	t.Helper()
	ctx := context.Background()
	project, file, _ := fixture(t, s)

	docs := []struct {
		name    string
		kind    string
		low     bool
		content string
		vector  []float32
	}{
		{"Parse", "function", false, "parse configuration file", []float32{1, 0}},
		{"Render", "method", false, "render html template", []float32{0.8, 0.6}},
		{"Legacy", "function", true, "legacy configuration loader", []float32{0, 1}},
	}

	ids := make(map[string]int64)
	for i, d := range docs {
		element := &Element{
			FileID: file.ID, Kind: d.kind, Name: d.name, QualifiedName: "greet." + d.name,
			StartLine: i + 1, EndLine: i + 1,
		}
		require.NoError(t, s.UpsertElement(ctx, element))
		chunks := makeChunks([]string{d.content}, [][]float32{d.vector}, "m")
		require.NoError(t, s.CommitDocumentation(ctx, &Documentation{
			ElementID: &element.ID, DocType: "api", Title: d.name + " - Documentation",
			Content: d.content, GeneratorID: "g", Quality: scores(0.8), LowQuality: d.low,
		}, chunks))
		ids[d.name] = chunks[0].ID
	}
	return project, ids
}

func TestNearest_Ordering(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	_, ids := seedSearchData(t, storage)

	results, err := storage.Nearest(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ids["Parse"], results[0].ChunkID)
	assert.Equal(t, ids["Render"], results[1].ChunkID)
	assert.Equal(t, ids["Legacy"], results[2].ChunkID)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.InDelta(t, 0.8, results[1].SimilarityScore, 1e-6)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].SimilarityScore, results[i].SimilarityScore)
	}
}

func TestNearest_Filters(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	project, ids := seedSearchData(t, storage)

	testCases := []struct {
		name    string
		filters *SearchFilters
		want    []int64
	}{
		{
			name:    "element kind",
			filters: &SearchFilters{ElementKinds: []string{"method"}},
			want:    []int64{ids["Render"]},
		},
		{
			name:    "exclude low quality",
			filters: &SearchFilters{ExcludeLowQuality: true},
			want:    []int64{ids["Parse"], ids["Render"]},
		},
		{
			name:    "minimum relevance",
			filters: &SearchFilters{MinRelevance: 0.5},
			want:    []int64{ids["Parse"], ids["Render"]},
		},
		{
			name:    "project",
			filters: &SearchFilters{ProjectID: project.ID},
			want:    []int64{ids["Parse"], ids["Render"], ids["Legacy"]},
		},
		{
			name:    "other project",
			filters: &SearchFilters{ProjectID: project.ID + 1},
			want:    []int64{},
		},
		{
			name:    "file pattern",
			filters: &SearchFilters{FilePattern: "other/*.go"},
			want:    []int64{},
		},
		{
			name:    "model",
			filters: &SearchFilters{Model: "other-model"},
			want:    []int64{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results, err := storage.Nearest(ctx, []float32{1, 0}, 10, tc.filters)
			require.NoError(t, err)
			got := make([]int64, 0, len(results))
			for _, r := range results {
				got = append(got, r.ChunkID)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNearest_FiltersBeforeRanking(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	_, ids := seedSearchData(t, storage)

	// k=1 with a filter still finds the best match inside the filtered set
	results, err := storage.Nearest(ctx, []float32{1, 0}, 1, &SearchFilters{ElementKinds: []string{"method"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids["Render"], results[0].ChunkID)
}

func TestNearest_EdgeCases(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	seedSearchData(t, storage)

	results, err := storage.Nearest(ctx, []float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = storage.Nearest(ctx, nil, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Vectors of another dimension are never compared
	results, err = storage.Nearest(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNearest_TieBreakByID(t *testing.T) {
	candidates := []candidate{
		{chunkID: 9, score: 0.5},
		{chunkID: 3, score: 0.5},
		{chunkID: 5, score: 0.9},
	}
	sortCandidates(candidates)
	assert.Equal(t, int64(5), candidates[0].chunkID)
	assert.Equal(t, int64(3), candidates[1].chunkID)
	assert.Equal(t, int64(9), candidates[2].chunkID)
}

func TestSearchText(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	_, ids := seedSearchData(t, storage)

	results, err := storage.SearchText(ctx, "configuration", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	got := []int64{results[0].ChunkID, results[1].ChunkID}
	assert.ElementsMatch(t, []int64{ids["Parse"], ids["Legacy"]}, got)
	for _, r := range results {
		assert.Greater(t, r.BM25Score, 0.0)
		assert.LessOrEqual(t, r.BM25Score, 1.0)
	}

	// Titles are indexed too
	results, err = storage.SearchText(ctx, "Render", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids["Render"], results[0].ChunkID)

	results, err = storage.SearchText(ctx, "configuration", 10, &SearchFilters{ExcludeLowQuality: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids["Parse"], results[0].ChunkID)
}

func TestSearchText_HostileInput(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	seedSearchData(t, storage)

	for _, q := range []string{`"unbalanced`, `NOT AND OR`, `parse*)(`, `NEAR(a b)`, `---`, ``} {
		_, err := storage.SearchText(ctx, q, 10, nil)
		assert.NoError(t, err, "query %q", q)
	}

	results, err := storage.SearchText(ctx, "---", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, `"parse" OR "config"`, sanitizeFTSQuery("parse config"))
	assert.Equal(t, `"NOT" OR "x"`, sanitizeFTSQuery(`NOT "x"`))
	assert.Equal(t, `"snake_case"`, sanitizeFTSQuery("snake_case()"))
	assert.Equal(t, "", sanitizeFTSQuery("  ** "))
}

func TestVectorRoundTrip(t *testing.T) {
	vector := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := SerializeVector(vector)
	assert.Len(t, blob, len(vector)*4)
	assert.Equal(t, vector, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
}

func TestNormalizeBM25(t *testing.T) {
	assert.Equal(t, 1.0, NormalizeBM25(0))
	assert.InDelta(t, 0.5, NormalizeBM25(-50), 1e-9)
	assert.Greater(t, NormalizeBM25(-1), NormalizeBM25(-10))
}
