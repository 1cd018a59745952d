// Package chunker divides generated documentation into chunks for embedding and search.
//
// The chunker splits on structure first and only falls back to token windows
// when a single structural unit is larger than the target size.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.WithTargetSize(256), chunker.WithOverlap(32))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range c.Chunk(docText) {
//	    fmt.Printf("chunk %d: %d tokens (%s)\n", chunk.Index, chunk.TokenCount, chunk.Role)
//	}
//
// # Chunking Strategy
//
// Text is first partitioned into structural units:
//   - Headings: a single Markdown heading line
//   - Code blocks: a fenced block, from the opening fence to the closing one
//   - Paragraphs: consecutive non-blank lines
//
// Blank lines belong to the unit before them. Units are packed in order into
// a chunk until the next unit would push it past the target size; a heading
// always starts a new chunk.
//
// A paragraph larger than the target size is split into windows of
// targetSize tokens. Each window after the first repeats the last `overlap`
// tokens of the previous window. A code block larger than the target size is
// emitted as one oversized chunk rather than split.
//
// # Tokens
//
// A token is a maximal run of non-whitespace characters. When splitting,
// whitespace stays attached to the token before it.
//
// # Round Trip
//
// Every chunk declares how many leading bytes it shares with its
// predecessor, so the original text can always be recovered:
//
//	chunks := c.Chunk(text)
//	chunker.Reconstruct(chunks) == text // always true
package chunker
