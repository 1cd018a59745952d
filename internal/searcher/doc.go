// Package searcher ranks indexed documentation chunks for a natural-language
// query.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb, searcher.WithLogger(logger))
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:     "how are failed requests retried",
//	    ProjectID: project.ID,
//	    Limit:     10,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s (score: %.2f)\n", r.Rank, r.Title, r.Score)
//	}
//
// # Search Modes
//
// Hybrid (default) embeds the query, takes the 3k nearest chunks together
// with the full-text matches, and scores each candidate as
//
//	score = w_semantic * similarity + w_lexical * term_overlap
//
// where term_overlap is the fraction of distinct query terms present in the
// chunk text or its documentation title. The default weights are 0.7 and 0.3.
// With weights {1, 0} the order is exactly the nearest-neighbour order.
//
// Vector forces weights {1, 0}. Keyword skips embedding and ranks full-text
// matches by term overlap alone.
//
// Ties are broken by similarity, then normalized BM25, then ascending chunk
// ID, so identical requests against an unchanged index return identical
// results.
//
// # Context Rerank
//
// A request with Context makes one extra pass over the top k: a result closer
// to the context than the one above it swaps places with it. No result moves
// more than one position.
//
// # Caching
//
// Responses can be cached in an LRU keyed by every ranking input. Call
// InvalidateCache after committing new documentation; the orchestrator's
// OnCommit hook is the usual place.
//
// # Telemetry
//
// Each search is recorded with its latency and result count. The returned
// QueryID accepts feedback through RecordFeedback.
package searcher
