package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer returns a test server speaking the embeddings wire format.
// Data is returned in reverse index order to exercise reordering.
func embeddingServer(t *testing.T, dim int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			data = append(data, map[string]interface{}{"index": i, "embedding": vec})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": req.Model, "data": data})
	}))
}

func statusServer(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestJinaProvider(t *testing.T) {
	var calls int32
	server := embeddingServer(t, 8, &calls)
	defer server.Close()

	provider, err := NewJinaProvider("test-key", NewCache(10), WithEndpoint(server.URL), WithModel("", 8))
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()

	resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"one", "two", "three"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	for i, emb := range resp.Embeddings {
		assert.Equal(t, float32(i+1), emb.Vector[0], "embeddings must follow input order")
		assert.Equal(t, ProviderJina, emb.Provider)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Cached texts do not hit the API again
	_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "two"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "four"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIProvider(t *testing.T) {
	var calls int32
	server := embeddingServer(t, OpenAIDimension, &calls)
	defer server.Close()

	provider, err := NewOpenAIProvider("test-key", nil, WithEndpoint(server.URL))
	require.NoError(t, err)

	emb, err := provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, OpenAIDimension, emb.Dimension)
	assert.Equal(t, DefaultOpenAIModel, emb.Model)
	assert.Equal(t, ProviderOpenAI, provider.Provider())
}

func TestProviderErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		retry   bool
	}{
		{"rate limited", http.StatusTooManyRequests, "slow down", ErrRateLimited, true},
		{"server error", http.StatusBadGateway, "upstream", ErrProviderFailed, true},
		{"unauthorized", http.StatusUnauthorized, "bad key", ErrNoProviderEnabled, false},
		{"dimension", http.StatusBadRequest, "dimensions must be <= 1024", ErrDimensionUnsupported, false},
		{"bad request", http.StatusBadRequest, "input too long", ErrInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := statusServer(tt.status, tt.body)
			defer server.Close()

			provider, err := NewJinaProvider("test-key", nil, WithEndpoint(server.URL))
			require.NoError(t, err)

			_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.retry, IsRetryable(err))
		})
	}
}

func TestProviderDimensionMismatch(t *testing.T) {
	var calls int32
	server := embeddingServer(t, 4, &calls)
	defer server.Close()

	provider, err := NewOpenAIProvider("test-key", nil, WithEndpoint(server.URL), WithModel("m", 8))
	require.NoError(t, err)

	_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrDimensionUnsupported)
	assert.False(t, IsRetryable(err))
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	provider, err := NewJinaProvider("test-key", nil, WithEndpoint(server.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv(EnvJinaAPIKey, "")
	_, err := NewJinaProvider("", nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}
