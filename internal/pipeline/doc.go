// Package pipeline turns submitted source files into searchable documentation.
//
// Every submission becomes a run keyed by (project, path, fingerprint). The
// run extracts the file's code elements and drives each one through
//
//	pending -> analyzed -> documented -> validated -> embedded -> indexed
//
// with failed and skipped as the other terminal states. Elements advance in
// parallel; the run ends failed with the earliest failing stage of any
// element, or indexed once every element is indexed or skipped.
//
// # Basic Usage
//
//	orch, err := pipeline.New(pipeline.Dependencies{
//	    Store:     store,
//	    Generator: gen,
//	    Embedder:  emb,
//	}, pipeline.DefaultConfig())
//
//	runID, err := orch.Submit(ctx, pipeline.SubmitRequest{
//	    Project: "myproject",
//	    Path:    "internal/greet/greet.go",
//	    Content: content,
//	})
//
//	status, err := orch.Wait(ctx, runID)
//	fmt.Println(status.State, status.FailedStage, status.Reason)
//
// # Change Gating
//
// A file whose fingerprint matches the last fully indexed content is skipped
// without calling the extractor, generator or embedder. Within a changed
// file, an element whose source text hashes the same as the one its current
// documentation was written from is skipped too.
//
// # Failure Handling
//
// Transient errors from external calls (rate limits, timeouts, provider
// failures) are retried with exponential backoff and full jitter, up to the
// configured attempts per stage. Permanent errors end the element in
// failed(stage) with a reason code. Documentation scoring below the quality
// threshold is regenerated once with the scores as feedback and then
// accepted with a low-quality flag. A commit rejected by the store's
// consistency check sends the element back to validated to re-embed.
//
// Retry resumes a failed run at the stage each element failed in, reusing
// the text and scores produced by earlier stages.
package pipeline
