package extractor

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"github.com/dshills/docrag/pkg/types"
)

// GoExtractorVersion is recorded as the analyzer version of Go files
const GoExtractorVersion = "go-ast-1"

// GoExtractor extracts elements from Go source using go/ast
type GoExtractor struct {
	// IncludeUnexported also emits unexported package-level vars and consts
	IncludeUnexported bool
}

// NewGoExtractor creates a new GoExtractor instance
func NewGoExtractor() *GoExtractor {
	return &GoExtractor{}
}

// Version implements Extractor
func (g *GoExtractor) Version() string { return GoExtractorVersion }

// Extract implements Extractor. A file that fails to parse yields a
// *ParseError and no elements. A file without declarations is described by
// a single module element.
func (g *GoExtractor) Extract(ctx context.Context, path string, content []byte) (*types.ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, toParseError(path, err)
	}

	e := &elementExtractor{
		fset:        fset,
		src:         content,
		packageName: file.Name.Name,
		unexported:  g.IncludeUnexported,
		seen:        make(map[string]int),
		funcs:       make(map[string]string),
		methods:     make(map[string][]string),
		typeNames:   make(map[string]string),
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	e.linkTypes()
	for _, body := range e.bodies {
		e.extractCalls(body)
	}

	result := &types.ExtractResult{
		Language:      "go",
		Elements:      e.elements,
		Relationships: e.relationships,
	}
	if len(result.Elements) == 0 {
		result.Elements = []types.CodeElement{moduleElement(file.Name.Name, string(content))}
	}
	return result, nil
}

func toParseError(path string, err error) error {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &ParseError{Path: path, Line: first.Pos.Line, Column: first.Pos.Column, Msg: first.Msg}
	}
	return &ParseError{Path: path, Msg: err.Error()}
}

// funcBody pairs a callable element with its body for call extraction
type funcBody struct {
	qualified string
	recvName  string // receiver variable name, if a method
	recvType  string
	body      *ast.BlockStmt
}

// elementExtractor walks one parsed file
type elementExtractor struct {
	fset        *token.FileSet
	src         []byte
	packageName string
	unexported  bool

	elements      []types.CodeElement
	relationships []types.Relationship

	seen      map[string]int      // kind:qualified -> occurrences
	funcs     map[string]string   // function name -> qualified name
	methods   map[string][]string // method name -> qualified names
	typeNames map[string]string   // type name -> qualified name
	embeds    [][2]string         // struct type, embedded type name
	recvTypes []string            // method qualified name, receiver type (pairs)
	bodies    []funcBody
	relSeen   map[string]bool
}

// add appends an element, disambiguating repeated qualified names with "#n"
func (e *elementExtractor) add(el types.CodeElement) string {
	key := string(el.Kind) + ":" + el.QualifiedName
	e.seen[key]++
	if n := e.seen[key]; n > 1 {
		el.QualifiedName = fmt.Sprintf("%s#%d", el.QualifiedName, n)
	}
	e.elements = append(e.elements, el)
	return el.QualifiedName
}

func (e *elementExtractor) relate(source, target string, typ types.RelationType, strength float64) {
	if source == "" || target == "" || source == target {
		return
	}
	if e.relSeen == nil {
		e.relSeen = make(map[string]bool)
	}
	key := source + "\x00" + target + "\x00" + string(typ)
	if e.relSeen[key] {
		return
	}
	e.relSeen[key] = true
	e.relationships = append(e.relationships, types.Relationship{
		Source: source, Target: target, Type: typ, Strength: strength,
	})
}

// extractFunction extracts function and method declarations
func (e *elementExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	el := types.CodeElement{
		Name:       funcDecl.Name.Name,
		DocComment: docText(funcDecl.Doc),
		Signature:  e.functionSignature(funcDecl),
		Source:     e.source(funcDecl.Pos(), funcDecl.End()),
		StartLine:  e.line(funcDecl.Pos()),
		EndLine:    e.line(funcDecl.End()),
		Parameters: e.parameters(funcDecl.Type.Params),
		Complexity: complexity(funcDecl.Body),
		Metadata:   map[string]string{"exported": fmt.Sprint(token.IsExported(funcDecl.Name.Name))},
	}
	if funcDecl.Type.Results != nil {
		el.ReturnType = e.results(funcDecl.Type.Results)
	}
	if funcDecl.Type.TypeParams != nil {
		el.Metadata["type_params"] = e.fieldListToString(funcDecl.Type.TypeParams)
	}

	var fb funcBody
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		recv := funcDecl.Recv.List[0]
		recvType, pointer := receiverType(recv.Type)
		el.Kind = types.KindMethod
		el.QualifiedName = e.packageName + "." + recvType + "." + funcDecl.Name.Name
		el.Metadata["receiver"] = recvType
		el.Metadata["pointer_receiver"] = fmt.Sprint(pointer)
		qualified := e.add(el)
		e.methods[funcDecl.Name.Name] = append(e.methods[funcDecl.Name.Name], qualified)
		e.recvTypes = append(e.recvTypes, qualified, recvType)
		fb = funcBody{qualified: qualified, recvType: recvType}
		if len(recv.Names) > 0 {
			fb.recvName = recv.Names[0].Name
		}
	} else {
		el.Kind = types.KindFunction
		el.QualifiedName = e.packageName + "." + funcDecl.Name.Name
		qualified := e.add(el)
		if _, ok := e.funcs[funcDecl.Name.Name]; !ok {
			e.funcs[funcDecl.Name.Name] = qualified
		}
		fb = funcBody{qualified: qualified}
	}

	if funcDecl.Body != nil {
		fb.body = funcDecl.Body
		e.bodies = append(e.bodies, fb)
	}
}

// extractGenDecl extracts type, const, and var declarations
func (e *elementExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	single := len(genDecl.Specs) == 1
	for _, spec := range genDecl.Specs {
		start, end := spec.Pos(), spec.End()
		doc := genDecl.Doc
		if single {
			start, end = genDecl.Pos(), genDecl.End()
		}
		switch s := spec.(type) {
		case *ast.TypeSpec:
			if s.Doc != nil {
				doc = s.Doc
			} else if !single {
				doc = nil
			}
			e.extractTypeSpec(s, doc, start, end)
		case *ast.ValueSpec:
			if s.Doc != nil {
				doc = s.Doc
			} else if !single {
				doc = nil
			}
			e.extractValueSpec(s, doc, genDecl.Tok, start, end)
		}
	}
}

// extractTypeSpec extracts struct, interface, and other type declarations as classes
func (e *elementExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, doc *ast.CommentGroup, start, end token.Pos) {
	name := typeSpec.Name.Name
	el := types.CodeElement{
		Kind:          types.KindClass,
		Name:          name,
		QualifiedName: e.packageName + "." + name,
		DocComment:    docText(doc),
		Source:        e.source(start, end),
		StartLine:     e.line(start),
		EndLine:       e.line(end),
		Metadata:      map[string]string{"exported": fmt.Sprint(token.IsExported(name))},
	}
	if typeSpec.TypeParams != nil {
		el.Metadata["type_params"] = e.fieldListToString(typeSpec.TypeParams)
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		fieldCount := 0
		if t.Fields != nil {
			fieldCount = t.Fields.NumFields()
			for _, field := range t.Fields.List {
				if len(field.Names) == 0 {
					embedded, _ := receiverType(field.Type)
					e.embeds = append(e.embeds, [2]string{name, embedded})
				}
			}
		}
		el.Signature = fmt.Sprintf("type %s struct { ... } // %d fields", name, fieldCount)
		el.Metadata["type_kind"] = "struct"
	case *ast.InterfaceType:
		methodCount := 0
		if t.Methods != nil {
			methodCount = t.Methods.NumFields()
		}
		el.Signature = fmt.Sprintf("type %s interface { ... } // %d methods", name, methodCount)
		el.Metadata["type_kind"] = "interface"
		el.IsAbstract = true
	default:
		if typeSpec.Assign.IsValid() {
			el.Signature = fmt.Sprintf("type %s = %s", name, e.exprToString(typeSpec.Type))
			el.Metadata["type_kind"] = "alias"
		} else {
			el.Signature = fmt.Sprintf("type %s %s", name, e.exprToString(typeSpec.Type))
			el.Metadata["type_kind"] = "defined"
		}
	}

	qualified := e.add(el)
	if _, ok := e.typeNames[name]; !ok {
		e.typeNames[name] = qualified
	}
}

// extractValueSpec extracts const and var declarations
func (e *elementExtractor) extractValueSpec(valueSpec *ast.ValueSpec, doc *ast.CommentGroup, tok token.Token, start, end token.Pos) {
	kind := types.KindVariable
	if tok == token.CONST {
		kind = types.KindConstant
	}

	for _, name := range valueSpec.Names {
		if name.Name == "_" || (!e.unexported && !token.IsExported(name.Name)) {
			continue
		}
		el := types.CodeElement{
			Kind:          kind,
			Name:          name.Name,
			QualifiedName: e.packageName + "." + name.Name,
			DocComment:    docText(doc),
			Source:        e.source(start, end),
			StartLine:     e.line(start),
			EndLine:       e.line(end),
			IsStatic:      true,
			Metadata:      map[string]string{"exported": fmt.Sprint(token.IsExported(name.Name))},
		}

		switch {
		case valueSpec.Type != nil:
			el.Signature = fmt.Sprintf("%s %s %s", tok, name.Name, e.exprToString(valueSpec.Type))
			el.ReturnType = e.exprToString(valueSpec.Type)
		case len(valueSpec.Values) > 0:
			el.Signature = fmt.Sprintf("%s %s = ...", tok, name.Name)
		default:
			el.Signature = fmt.Sprintf("%s %s", tok, name.Name)
		}

		e.add(el)
	}
}

// linkTypes records containment of methods in their receiver types and
// embedding between struct types declared in the file
func (e *elementExtractor) linkTypes() {
	for i := 0; i+1 < len(e.recvTypes); i += 2 {
		method, recv := e.recvTypes[i], e.recvTypes[i+1]
		if typ, ok := e.typeNames[recv]; ok {
			e.relate(typ, method, types.RelContains, 1.0)
		}
	}
	for _, embed := range e.embeds {
		outer, inner := e.typeNames[embed[0]], e.typeNames[embed[1]]
		e.relate(outer, inner, types.RelInherits, 0.8)
	}
}

// extractCalls records calls from a body to functions and methods of the same file
func (e *elementExtractor) extractCalls(fb funcBody) {
	ast.Inspect(fb.body, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch fun := call.Fun.(type) {
		case *ast.Ident:
			if target, ok := e.funcs[fun.Name]; ok {
				e.relate(fb.qualified, target, types.RelCalls, 1.0)
			} else if target, ok := e.typeNames[fun.Name]; ok {
				// Conversion to a local type
				e.relate(fb.qualified, target, types.RelUses, 0.5)
			}
		case *ast.SelectorExpr:
			candidates := e.methods[fun.Sel.Name]
			if ident, ok := fun.X.(*ast.Ident); ok && fb.recvName != "" && ident.Name == fb.recvName {
				want := e.packageName + "." + fb.recvType + "." + fun.Sel.Name
				for _, c := range candidates {
					if c == want {
						e.relate(fb.qualified, c, types.RelCalls, 1.0)
						return true
					}
				}
			}
			if len(candidates) == 1 {
				e.relate(fb.qualified, candidates[0], types.RelCalls, 0.5)
			}
		}
		return true
	})
}

// parameters converts a parameter list; unnamed and blank parameters are omitted
func (e *elementExtractor) parameters(fieldList *ast.FieldList) []types.Parameter {
	if fieldList == nil {
		return nil
	}
	var params []types.Parameter
	for _, field := range fieldList.List {
		typeStr := e.exprToString(field.Type)
		for _, name := range field.Names {
			if name.Name == "_" {
				continue
			}
			params = append(params, types.Parameter{Name: name.Name, Type: typeStr})
		}
	}
	return params
}

// results renders a result list the way it appears in a signature
func (e *elementExtractor) results(fieldList *ast.FieldList) string {
	results := e.fieldListToString(fieldList)
	if fieldList.NumFields() > 1 || (len(fieldList.List) == 1 && len(fieldList.List[0].Names) > 0) {
		return "(" + results + ")"
	}
	return results
}

// functionSignature builds a function signature string
func (e *elementExtractor) functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	// Add receiver for methods
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(e.fieldListToString(funcDecl.Recv))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)

	if funcDecl.Type.TypeParams != nil {
		sig.WriteString("[")
		sig.WriteString(e.fieldListToString(funcDecl.Type.TypeParams))
		sig.WriteString("]")
	}

	sig.WriteString("(")
	if funcDecl.Type.Params != nil {
		sig.WriteString(e.fieldListToString(funcDecl.Type.Params))
	}
	sig.WriteString(")")

	if funcDecl.Type.Results != nil && len(funcDecl.Type.Results.List) > 0 {
		sig.WriteString(" ")
		sig.WriteString(e.results(funcDecl.Type.Results))
	}

	return sig.String()
}

// fieldListToString converts a field list to a string representation
func (e *elementExtractor) fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := e.exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func (e *elementExtractor) exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + e.exprToString(t.X)
	case *ast.ArrayType:
		if t.Len != nil {
			return "[" + e.exprToString(t.Len) + "]" + e.exprToString(t.Elt)
		}
		return "[]" + e.exprToString(t.Elt)
	case *ast.BasicLit:
		return t.Value
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", e.exprToString(t.Key), e.exprToString(t.Value))
	case *ast.ChanType:
		switch t.Dir {
		case ast.SEND:
			return "chan<- " + e.exprToString(t.Value)
		case ast.RECV:
			return "<-chan " + e.exprToString(t.Value)
		default:
			return "chan " + e.exprToString(t.Value)
		}
	case *ast.FuncType:
		sig := "func(" + e.fieldListToString(t.Params) + ")"
		if t.Results != nil && len(t.Results.List) > 0 {
			sig += " " + e.results(t.Results)
		}
		return sig
	case *ast.InterfaceType:
		if t.Methods == nil || len(t.Methods.List) == 0 {
			return "interface{}"
		}
		return "interface{ ... }"
	case *ast.StructType:
		return "struct{ ... }"
	case *ast.SelectorExpr:
		return e.exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + e.exprToString(t.Elt)
	case *ast.IndexExpr:
		return e.exprToString(t.X) + "[" + e.exprToString(t.Index) + "]"
	case *ast.IndexListExpr:
		args := make([]string, len(t.Indices))
		for i, idx := range t.Indices {
			args[i] = e.exprToString(idx)
		}
		return e.exprToString(t.X) + "[" + strings.Join(args, ", ") + "]"
	case *ast.BinaryExpr:
		return e.exprToString(t.X) + " " + t.Op.String() + " " + e.exprToString(t.Y)
	case *ast.UnaryExpr:
		return t.Op.String() + e.exprToString(t.X)
	case *ast.ParenExpr:
		return "(" + e.exprToString(t.X) + ")"
	default:
		return "..."
	}
}

func (e *elementExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// source returns the raw text between two positions
func (e *elementExtractor) source(start, end token.Pos) string {
	from, to := e.fset.Position(start).Offset, e.fset.Position(end).Offset
	if from < 0 || to > len(e.src) || from > to {
		return ""
	}
	return string(e.src[from:to])
}

// receiverType returns the base type name of a receiver or embedded field
// and whether it is a pointer
func receiverType(expr ast.Expr) (string, bool) {
	pointer := false
	if star, ok := expr.(*ast.StarExpr); ok {
		pointer = true
		expr = star.X
	}
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name, pointer
	case *ast.IndexExpr:
		name, _ := receiverType(t.X)
		return name, pointer
	case *ast.IndexListExpr:
		name, _ := receiverType(t.X)
		return name, pointer
	case *ast.SelectorExpr:
		return t.Sel.Name, pointer
	}
	return "", pointer
}

// complexity returns the cyclomatic complexity of a function body
func complexity(body *ast.BlockStmt) int {
	if body == nil {
		return 1
	}
	n := 1
	ast.Inspect(body, func(node ast.Node) bool {
		switch x := node.(type) {
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt:
			n++
		case *ast.CaseClause:
			if x.List != nil {
				n++
			}
		case *ast.CommClause:
			if x.Comm != nil {
				n++
			}
		case *ast.BinaryExpr:
			if x.Op == token.LAND || x.Op == token.LOR {
				n++
			}
		}
		return true
	})
	return n
}

// docText extracts documentation from a comment group
func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
