// Package generator produces documentation text for code elements.
//
// Two backends implement Generator: OpenAIGenerator talks to any
// OpenAI-compatible /chat/completions endpoint behind a token bucket rate
// limiter, and TemplateGenerator renders documentation offline from the
// element descriptor.
//
// # Prompts
//
// Prompts are text/template definitions selected by element kind (function,
// method, class, module) plus a project overview prompt. When a request
// carries Previous text and scores, the improvement prompt is prepended so
// the model can rework a rejected draft:
//
//	res, err := gen.Generate(ctx, generator.Request{
//	    Element:        elem,
//	    FilePath:       "pkg/greet.go",
//	    Style:          types.StyleGoogle,
//	    Previous:       draft,
//	    PreviousScores: &scores,
//	})
//
// # Errors
//
// ErrRateLimited, ErrTimeout and ErrProviderFailed are transient and
// IsRetryable reports true for them. ErrInvalidRequest is permanent.
package generator
