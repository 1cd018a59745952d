// Package storage provides SQLite-based persistence for the documentation index.
//
// The storage layer manages:
//   - Projects and their tracked source files
//   - Extracted code elements and their relationships
//   - Generated documentation with quality scores
//   - Chunks, their embeddings and the full-text index
//   - Search query telemetry
//
// # Database Schema
//
// Tables:
//   - projects: Project name, language and documentation style
//   - files: File content, current fingerprint and last indexed fingerprint
//   - code_elements: Extracted elements, unique per (file, kind, qualified name)
//   - element_relationships: Typed edges between elements
//   - documentation: One record per element, or per (project, doc type)
//   - chunks: Ordered, immutable slices of a documentation record
//   - embeddings: One vector per chunk
//   - embedding_models: Fixed vector dimension per model
//   - chunks_fts: FTS5 index over chunk text and documentation title
//   - search_queries: Query log with optional feedback
//
// # Committing Documentation
//
// CommitDocumentation replaces an owner's documentation and its whole chunk
// set in one transaction. Readers see either the previous set or the new one:
//
//	err := db.CommitDocumentation(ctx, &storage.Documentation{
//	    ElementID: &elementID,
//	    DocType:   "api",
//	    Title:     "Parse - Function Documentation",
//	    Content:   text,
//	    Quality:   scores,
//	}, chunks)
//	if errors.Is(err, storage.ErrDimensionMismatch) {
//	    // vectors do not match the model's registered dimension
//	}
//
// # Transactions
//
// Use transactions for atomic multi-step updates:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.UpsertFile(ctx, file); err != nil {
//	    return err
//	}
//	for _, e := range elements {
//	    if err := tx.UpsertElement(ctx, e); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// Nested transactions are not supported.
//
// # Search
//
// Nearest ranks embedded chunks by cosine similarity, applying filters before
// ranking and breaking ties by ascending chunk ID. SearchText runs a BM25
// query over chunk text and titles, normalized into (0, 1].
//
// # Build Modes
//
// The default build uses modernc.org/sqlite and scores vectors in Go. Building
// with -tags sqlite_vec switches to github.com/mattn/go-sqlite3 and uses
// vec_distance_cosine when the extension is loaded.
package storage
