// Package types provides shared type definitions for docrag.
//
// These are the domain types passed between the extractor, the pipeline,
// storage and search: code element descriptors, documentation chunks,
// quality scores and search results.
//
// # Code Elements
//
// CodeElement is the descriptor a structural extractor returns for one
// span of a source file:
//
//	elem := types.CodeElement{
//	    Kind:          types.KindFunction,
//	    Name:          "ParseFile",
//	    QualifiedName: "parser.ParseFile",
//	    Signature:     "func ParseFile(path string) (*Result, error)",
//	    StartLine:     12,
//	    EndLine:       40,
//	}
//
// Validate checks the kind against the closed enumeration and that the line
// span is non-empty and inside the owning file.
//
// # Chunks
//
// Chunk carries a slice of documentation text. Consecutive chunks may share
// tokens; the shared prefix is declared by OverlapBytes, so joining
// Fresh() of every chunk yields the original text.
//
// # Quality
//
// QualityScores keeps the derived overall score consistent:
//
//	q := types.NewQualityScores(0.8, 0.7, 0.9)
//	// q.Overall == 0.4*0.8 + 0.3*0.7 + 0.3*0.9
package types
