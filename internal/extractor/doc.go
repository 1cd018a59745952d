// Package extractor turns source files into code element descriptors.
//
// Go files are parsed with the standard library (go/parser, go/ast,
// go/token); any other file type is described as one module element that
// spans the whole file.
//
// # Basic Usage
//
//	reg := extractor.DefaultRegistry()
//	result, err := reg.Extract(ctx, "internal/greet/greet.go", content)
//	var perr *extractor.ParseError
//	if errors.As(err, &perr) {
//	    log.Printf("line %d: %s", perr.Line, perr.Msg)
//	}
//
//	for _, el := range result.Elements {
//	    fmt.Printf("%s %s (%d-%d)\n", el.Kind, el.QualifiedName, el.StartLine, el.EndLine)
//	}
//
// # Go Elements
//
//   - Functions and methods, with parameters, results and cyclomatic complexity
//   - Type declarations as classes; interfaces are marked abstract
//   - Exported package-level constants and variables
//
// Repeated qualified names within a file (several init functions, for
// example) are disambiguated with a "#n" suffix.
//
// # Relationships
//
// Edges are recorded between elements of the same file: a type contains its
// methods, a struct inherits from types it embeds, and functions call the
// functions and methods they invoke.
package extractor
