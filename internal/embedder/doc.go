// Package embedder generates vector embeddings for documentation chunks.
//
// The embedder supports multiple embedding providers (Jina AI, OpenAI and an
// offline local provider) behind one interface, with an LRU cache keyed by
// model and content hash.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "Parses the configuration file and returns the settings.",
//	})
//	fmt.Printf("Vector dimension: %d\n", len(result.Vector))
//
// # Batch Processing
//
// EmbedAll splits any number of texts into API-sized batches and either
// returns one vector per text or fails as a whole:
//
//	vectors, err := embedder.EmbedAll(ctx, emb, texts)
//
// # Provider Selection
//
// The embedder selects a provider based on environment variables:
//
//  1. If DOCRAG_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if JINA_API_KEY is set → use Jina AI
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → fallback to local provider (offline mode)
//
// Or explicitly:
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:  "openai",
//	    APIKey:    key,
//	    Model:     "text-embedding-3-small",
//	    Dimension: 1536,
//	    CacheSize: 10000,
//	})
//
// # Providers
//
// Jina AI: 1024 dimensions by default.
//
// OpenAI: 1536 dimensions by default.
//
// Local: feature-hashed bag of words, 384 dimensions by default. Vectors are
// deterministic and texts sharing vocabulary score higher, which makes it
// useful offline and in tests. It is not a semantic model.
//
// # Error Handling
//
// Providers make exactly one API call per request and never retry on their
// own. Errors are classified so callers can decide:
//
//	switch {
//	case embedder.IsRetryable(err):
//	    // ErrRateLimited, ErrProviderFailed, deadline exceeded
//	case errors.Is(err, embedder.ErrDimensionUnsupported):
//	    // configuration problem, do not retry
//	}
package embedder
