package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

// Common errors
var (
	ErrInvalidQuery   = errors.New("invalid query")
	ErrInvalidWeights = errors.New("invalid weights")
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Weighted semantic + lexical
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // Lexical only
)

const (
	DefaultLimit        = 10
	MaxLimit            = 100
	DefaultCacheSize    = 1000
	DefaultCacheTTL     = time.Hour
	DefaultRelatedLimit = 5

	// candidateFactor widens the semantic candidate pool for reranking
	candidateFactor = 3
)

// Weights balance semantic similarity against lexical overlap
type Weights struct {
	Semantic float64
	Lexical  float64
}

// DefaultWeights returns the default 0.7/0.3 split
func DefaultWeights() Weights {
	return Weights{Semantic: 0.7, Lexical: 0.3}
}

func (w Weights) validate() error {
	if w.Semantic < 0 || w.Lexical < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidWeights)
	}
	if w.Semantic == 0 && w.Lexical == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrInvalidWeights)
	}
	return nil
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query         string
	Limit         int
	Mode          SearchMode
	Weights       *Weights // Nil uses DefaultWeights
	Filters       *storage.SearchFilters
	ProjectID     int64   // Overrides Filters.ProjectID when set
	Context       string  // Optional text for the contextual rerank pass
	MinSimilarity float64 // When positive, candidates below this similarity are dropped
	UseCache      bool
	CacheTTL      time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.SearchResult
	TotalResults  int
	SearchMode    SearchMode
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
	QueryID       int64 // Telemetry record, for feedback
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher ranks documentation chunks for a query
type Searcher struct {
	storage      storage.Storage
	embedder     embedder.Embedder
	logger       *slog.Logger
	relatedLimit int

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex

	// Concurrent identical query embeddings share one call
	group singleflight.Group
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRelatedLimit sets how many related element names each result carries
func WithRelatedLimit(n int) Option {
	return func(s *Searcher) {
		s.relatedLimit = n
	}
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, emb embedder.Embedder, opts ...Option) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](DefaultCacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		storage:      store,
		embedder:     emb,
		logger:       slog.Default(),
		relatedLimit: DefaultRelatedLimit,
		cache:        cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "searcher")
	return s
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var response *SearchResponse
	var err error
	switch req.Mode {
	case SearchModeHybrid, SearchModeVector:
		response, err = s.semanticSearch(ctx, req)
	case SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unsupported search mode %q", ErrInvalidQuery, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(startTime)
	response.SearchMode = req.Mode
	response.QueryID = s.recordQuery(ctx, req, response)

	if req.UseCache {
		s.storeInCache(req, response)
	}

	s.logger.Debug("search completed", "query", req.Query, "mode", req.Mode,
		"results", response.TotalResults, "duration", response.Duration)
	return response, nil
}

// candidate is one chunk under consideration
type candidate struct {
	chunkID  int64
	semantic float64 // Raw cosine similarity
	lexical  float64 // Query term overlap in [0,1]
	bm25     float64 // Normalized FTS score, keyword mode tie-break
	combined float64
	detail   *storage.ChunkDetail

	textOnly bool // Found by text search alone
}

// semanticSearch embeds the query, gathers 3k nearest chunks plus lexical
// matches, and ranks them by the weighted combination of both scores.
func (s *Searcher) semanticSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	queryVector, err := s.embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	weights := *req.Weights
	if req.Mode == SearchModeVector {
		weights = Weights{Semantic: 1}
	}

	k := candidateFactor * req.Limit
	vectorResults, err := s.storage.Nearest(ctx, queryVector, k, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	var textResults []storage.TextResult
	if weights.Lexical > 0 {
		textResults, err = s.storage.SearchText(ctx, req.Query, k, req.Filters)
		if err != nil {
			return nil, fmt.Errorf("text search failed: %w", err)
		}
	}

	pool := make(map[int64]*candidate, len(vectorResults)+len(textResults))
	ids := make([]int64, 0, len(vectorResults)+len(textResults))
	for _, vr := range vectorResults {
		pool[vr.ChunkID] = &candidate{chunkID: vr.ChunkID, semantic: vr.SimilarityScore}
		ids = append(ids, vr.ChunkID)
	}
	for _, tr := range textResults {
		if c, ok := pool[tr.ChunkID]; ok {
			c.bm25 = tr.BM25Score
			continue
		}
		pool[tr.ChunkID] = &candidate{chunkID: tr.ChunkID, bm25: tr.BM25Score, textOnly: true}
		ids = append(ids, tr.ChunkID)
	}

	details, err := s.storage.GetChunkDetails(ctx, ids)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(req.Query)
	candidates := make([]*candidate, 0, len(pool))
	for _, id := range ids {
		c := pool[id]
		detail, ok := details[id]
		if !ok {
			continue
		}
		c.detail = detail
		if c.textOnly {
			c.semantic = storage.CosineSimilarity(queryVector, detail.Vector)
		}
		if req.MinSimilarity > 0 && c.semantic < req.MinSimilarity {
			continue
		}
		c.lexical = lexicalScore(terms, detail.Title+" "+detail.Content)
		c.combined = weights.Semantic*clamp01(c.semantic) + weights.Lexical*c.lexical
		candidates = append(candidates, c)
	}

	rankCandidates(candidates)
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	if req.Context != "" {
		if err := s.contextRerank(ctx, req.Context, candidates); err != nil {
			s.logger.Warn("context rerank skipped", "error", err)
		}
	}

	return &SearchResponse{
		Results:       s.buildResults(ctx, candidates),
		TotalResults:  len(candidates),
		VectorResults: len(vectorResults),
		TextResults:   len(textResults),
	}, nil
}

// keywordSearch ranks FTS matches by query term overlap
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	textResults, err := s.storage.SearchText(ctx, req.Query, candidateFactor*req.Limit, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}

	ids := make([]int64, len(textResults))
	for i, tr := range textResults {
		ids[i] = tr.ChunkID
	}
	details, err := s.storage.GetChunkDetails(ctx, ids)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(req.Query)
	candidates := make([]*candidate, 0, len(textResults))
	for _, tr := range textResults {
		detail, ok := details[tr.ChunkID]
		if !ok {
			continue
		}
		c := &candidate{chunkID: tr.ChunkID, bm25: tr.BM25Score, detail: detail}
		c.lexical = lexicalScore(terms, detail.Title+" "+detail.Content)
		c.combined = c.lexical
		candidates = append(candidates, c)
	}

	rankKeywordCandidates(candidates)
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	return &SearchResponse{
		Results:      s.buildResults(ctx, candidates),
		TotalResults: len(candidates),
		TextResults:  len(textResults),
	}, nil
}

// embed returns the query vector, sharing in-flight calls for the same text.
// The shared call is detached from any one caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (s *Searcher) embed(ctx context.Context, text string) ([]float32, error) {
	key := s.embedder.Model() + "\x00" + text
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		emb, err := s.embedder.GenerateEmbedding(shared, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		return emb.Vector, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rankCandidates orders by combined score, then semantic score, then
// ascending chunk ID
func rankCandidates(candidates []*candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.combined != b.combined {
			return a.combined > b.combined
		}
		if a.semantic != b.semantic {
			return a.semantic > b.semantic
		}
		return a.chunkID < b.chunkID
	})
}

// rankKeywordCandidates orders keyword-only results by term overlap, then
// BM25, then ascending chunk ID
func rankKeywordCandidates(candidates []*candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.combined != b.combined {
			return a.combined > b.combined
		}
		if a.bm25 != b.bm25 {
			return a.bm25 > b.bm25
		}
		return a.chunkID < b.chunkID
	})
}

// contextRerank lets each candidate move up at most one position when it is
// closer to the context than its predecessor
func (s *Searcher) contextRerank(ctx context.Context, text string, candidates []*candidate) error {
	if len(candidates) < 2 {
		return nil
	}
	contextVector, err := s.embed(ctx, text)
	if err != nil {
		return err
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = storage.CosineSimilarity(contextVector, c.detail.Vector)
	}
	promoteAdjacent(candidates, scores)
	return nil
}

// promoteAdjacent swaps neighbours where the lower one scores higher. After a
// swap both positions are skipped so no candidate moves more than one place.
func promoteAdjacent(candidates []*candidate, scores []float64) {
	for i := 1; i < len(candidates); {
		if scores[i] > scores[i-1] {
			candidates[i], candidates[i-1] = candidates[i-1], candidates[i]
			scores[i], scores[i-1] = scores[i-1], scores[i]
			i += 2
			continue
		}
		i++
	}
}

// buildResults converts ranked candidates into results with related elements
func (s *Searcher) buildResults(ctx context.Context, candidates []*candidate) []types.SearchResult {
	results := make([]types.SearchResult, 0, len(candidates))
	for i, c := range candidates {
		d := c.detail
		result := types.SearchResult{
			ChunkID:         c.chunkID,
			DocumentationID: d.DocumentationID,
			Rank:            i + 1,
			Score:           clamp01(c.combined),
			SemanticScore:   c.semantic,
			LexicalScore:    c.lexical,
			Title:           d.Title,
			Content:         d.Content,
			ChunkIndex:      d.ChunkIndex,
			Role:            types.ChunkRole(d.Role),
			DocType:         types.DocType(d.DocType),
			LowQuality:      d.LowQuality,
		}

		if d.ElementID != 0 {
			result.Element = &types.ElementInfo{
				Name:          d.ElementName,
				QualifiedName: d.QualifiedName,
				Kind:          types.ElementKind(d.ElementKind),
				Signature:     d.Signature,
			}
			result.File = &types.FileInfo{
				Project:   d.ProjectName,
				Path:      d.FilePath,
				StartLine: d.StartLine,
				EndLine:   d.EndLine,
			}
			if s.relatedLimit > 0 {
				related, err := s.storage.ListRelated(ctx, d.ElementID, s.relatedLimit)
				if err != nil {
					s.logger.Debug("failed to load related elements", "element_id", d.ElementID, "error", err)
				}
				for _, r := range related {
					result.Related = append(result.Related, r.QualifiedName)
				}
			}
		}
		results = append(results, result)
	}
	return results
}

// recordQuery writes the telemetry row; failures are logged, not returned
func (s *Searcher) recordQuery(ctx context.Context, req SearchRequest, resp *SearchResponse) int64 {
	q := &storage.SearchQuery{
		QueryText:   req.Query,
		QueryType:   string(req.Mode),
		ResultCount: resp.TotalResults,
		LatencyMs:   resp.Duration.Milliseconds(),
	}
	if req.Filters != nil && req.Filters.ProjectID != 0 {
		projectID := req.Filters.ProjectID
		q.ProjectID = &projectID
	}
	if err := s.storage.RecordQuery(context.WithoutCancel(ctx), q); err != nil {
		s.logger.Warn("failed to record query", "error", err)
		return 0
	}
	return q.ID
}

// RecordFeedback attaches caller feedback to a recorded query
func (s *Searcher) RecordFeedback(ctx context.Context, queryID int64, feedback string) error {
	return s.storage.RecordFeedback(ctx, queryID, feedback)
}

// validateRequest normalizes defaults and rejects unusable requests
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}

	if req.Weights == nil {
		w := DefaultWeights()
		req.Weights = &w
	}
	if err := req.Weights.validate(); err != nil {
		return err
	}

	if req.MinSimilarity < 0 || req.MinSimilarity > 1 {
		return fmt.Errorf("%w: similarity floor %v out of range", ErrInvalidQuery, req.MinSimilarity)
	}

	if req.ProjectID != 0 {
		filters := storage.SearchFilters{}
		if req.Filters != nil {
			filters = *req.Filters
		}
		filters.ProjectID = req.ProjectID
		req.Filters = &filters
	}

	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// queryTerms returns the distinct lowercased terms of q
func queryTerms(q string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range embedder.Tokenize(q) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// lexicalScore is the fraction of query terms that occur in text
func lexicalScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, t := range embedder.Tokenize(text) {
		present[t] = true
	}
	hits := 0
	for _, t := range terms {
		if present[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// storeInCache saves a copy of response
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		if result.Element != nil {
			element := *result.Element
			dst.Results[i].Element = &element
		}
		if result.File != nil {
			file := *result.File
			dst.Results[i].File = &file
		}
		dst.Results[i].Related = append([]string(nil), result.Related...)
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|%s|%d|%.4f|%s", req.Mode, req.Limit, req.MinSimilarity, req.Context)
	if req.Weights != nil {
		fmt.Fprintf(&data, "|w:%.4f,%.4f", req.Weights.Semantic, req.Weights.Lexical)
	}

	if f := req.Filters; f != nil {
		fmt.Fprintf(&data, "|filters:%d|%s|%s|%s|%s|%s|%t|%.4f",
			f.ProjectID,
			strings.Join(f.ElementKinds, ","),
			strings.Join(f.DocTypes, ","),
			strings.Join(f.Roles, ","),
			f.FilePattern,
			f.Model,
			f.ExcludeLowQuality,
			f.MinRelevance,
		)
	}

	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache purges every cached response. The orchestrator calls it
// whenever new documentation is committed.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
