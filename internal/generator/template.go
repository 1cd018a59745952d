package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/docrag/pkg/types"
)

// TemplateGeneratorID identifies the offline generator on documentation records
const TemplateGeneratorID = "template-1"

// TemplateGenerator builds documentation from the element descriptor alone.
// Output is a pure function of the request, which makes it suitable for
// offline indexing and tests.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a TemplateGenerator
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// ID implements Generator
func (t *TemplateGenerator) ID() string { return TemplateGeneratorID }

// Generate implements Generator
func (t *TemplateGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var text string
	if req.Element == nil {
		text = projectOverview(req)
	} else {
		text = elementDoc(req)
	}
	return &Result{Text: text, GeneratorID: TemplateGeneratorID}, nil
}

func elementDoc(req Request) string {
	e := req.Element
	lang := req.Language
	if lang == "" {
		lang = "go"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", Title(e, req.ProjectName))
	if e.Signature != "" {
		fmt.Fprintf(&b, "`%s`\n\n", e.Signature)
	}

	fmt.Fprintf(&b, "%s is %s declared in `%s` at lines %d to %d.", e.Name, kindPhrase(e), req.FilePath, e.StartLine, e.EndLine)
	if doc := sentence(e.DocComment); doc != "" {
		b.WriteString(" " + doc)
	}
	b.WriteString("\n")
	for _, s := range flagSentences(e) {
		b.WriteString(s + "\n")
	}
	b.WriteString("\n")

	if callable(e) {
		b.WriteString("## Parameters\n\n")
		if len(e.Parameters) == 0 {
			fmt.Fprintf(&b, "%s takes no parameters and depends only on its inputs from the surrounding scope.\n\n", e.Name)
		}
		for _, p := range e.Parameters {
			typ := p.Type
			if typ == "" {
				typ = "any"
			}
			fmt.Fprintf(&b, "- `%s` of type `%s` is supplied by the caller and read by %s.", p.Name, typ, e.Name)
			if p.Default != "" {
				fmt.Fprintf(&b, " It defaults to `%s` when omitted.", p.Default)
			}
			b.WriteString("\n")
		}
		if len(e.Parameters) > 0 {
			b.WriteString("\n")
		}

		b.WriteString("## Returns\n\n")
		if hasResult(e) {
			fmt.Fprintf(&b, "%s returns a value of type `%s` to the caller.", e.Name, e.ReturnType)
			if strings.Contains(e.ReturnType, "error") {
				b.WriteString(" A non-nil error reports that the call failed and the other results should be ignored.")
			}
			b.WriteString("\n\n")
		} else {
			fmt.Fprintf(&b, "%s produces no result value, so its effect is only visible through the state it changes.\n\n", e.Name)
		}
	}

	if e.Kind == types.KindClass || callable(e) {
		b.WriteString("## Example\n\n")
		fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, exampleCode(e))
	}

	if len(req.Dependencies) > 0 {
		fmt.Fprintf(&b, "%s works together with %s in the same file.\n\n", e.Name, strings.Join(req.Dependencies, ", "))
	}

	if req.Improving() || e.Complexity > 5 {
		b.WriteString("## Notes\n\n")
		if e.Complexity > 0 {
			fmt.Fprintf(&b, "The implementation has a cyclomatic complexity of %d, so review each branch before changing it.\n", e.Complexity)
		}
		if req.Improving() {
			fmt.Fprintf(&b, "The full signature is `%s` and every parameter listed above is required unless a default is shown.\n", signatureOrName(e))
			fmt.Fprintf(&b, "Read the source of %s alongside this page when behavior at the edges matters to your caller.\n", e.QualifiedName)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func projectOverview(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", Title(nil, req.ProjectName))
	fmt.Fprintf(&b, "The %s project is documented element by element, and this page gives the overall picture of its packages.\n\n", req.ProjectName)
	b.WriteString("## Components\n\n")
	if len(req.Dependencies) == 0 {
		b.WriteString("No elements have been documented yet, so run an indexing pass to populate this overview.\n")
	} else {
		for _, name := range req.Dependencies {
			fmt.Fprintf(&b, "- `%s` has its own page with parameters and a usage example.\n", name)
		}
	}
	b.WriteString("\nSearch the documentation by keyword or meaning to jump straight to the element you need.\n")
	return b.String()
}

func kindPhrase(e *types.CodeElement) string {
	switch e.Kind {
	case types.KindFunction:
		return "a function"
	case types.KindMethod:
		if recv := e.Metadata["receiver"]; recv != "" {
			return "a method of `" + recv + "`"
		}
		return "a method"
	case types.KindClass:
		if tk := e.Metadata["type_kind"]; tk != "" {
			return "a " + tk + " type"
		}
		return "a type"
	case types.KindModule:
		return "a module"
	case types.KindConstant:
		return "a constant"
	case types.KindVariable:
		return "a variable"
	case types.KindImport:
		return "an import"
	default:
		return "an element"
	}
}

func flagSentences(e *types.CodeElement) []string {
	var out []string
	if e.IsStatic {
		out = append(out, "It is a package-level declaration shared by every caller in the package.")
	}
	if e.IsAbstract {
		out = append(out, "It is an interface type, so concrete types implement its methods to satisfy it.")
	}
	if e.IsAsync {
		out = append(out, "It runs concurrently, so callers must wait for completion before reading any results.")
	}
	return out
}

func callable(e *types.CodeElement) bool {
	return e.Kind == types.KindFunction || e.Kind == types.KindMethod
}

func hasResult(e *types.CodeElement) bool {
	switch e.ReturnType {
	case "", "None", "void", "()":
		return false
	default:
		return true
	}
}

func signatureOrName(e *types.CodeElement) string {
	if e.Signature != "" {
		return e.Signature
	}
	return e.Name
}

// sentence trims s and terminates it with a period
func sentence(s string) string {
	s = strings.TrimSpace(strings.Join(strings.Fields(s), " "))
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
		s += "."
	}
	return s
}

func exampleCode(e *types.CodeElement) string {
	if e.Kind == types.KindClass {
		return fmt.Sprintf("var v %s\n_ = v", e.Name)
	}

	args := make([]string, len(e.Parameters))
	for i, p := range e.Parameters {
		args[i] = p.Name
		if args[i] == "" || args[i] == "_" {
			args[i] = fmt.Sprintf("arg%d", i)
		}
	}

	callee := e.QualifiedName
	if e.Kind == types.KindMethod {
		recv := e.Metadata["receiver"]
		v := "v"
		if recv != "" {
			v = strings.ToLower(recv[:1])
		}
		callee = v + "." + e.Name
	}
	call := fmt.Sprintf("%s(%s)", callee, strings.Join(args, ", "))

	if !hasResult(e) {
		return call
	}
	return strings.Join(resultVars(e.ReturnType), ", ") + " := " + call
}

// resultVars names one variable per top-level result in ret
func resultVars(ret string) []string {
	ret = strings.TrimSpace(ret)
	if !strings.HasPrefix(ret, "(") || !strings.HasSuffix(ret, ")") {
		if ret == "error" {
			return []string{"err"}
		}
		return []string{"result"}
	}

	inner := ret[1 : len(ret)-1]
	var parts []string
	depth, start := 0, 0
	for i, r := range inner {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, inner[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, inner[start:])

	vars := make([]string, len(parts))
	for i, p := range parts {
		fields := strings.Fields(p)
		switch {
		case len(fields) > 0 && fields[len(fields)-1] == "error":
			vars[i] = "err"
		case len(parts) == 1:
			vars[i] = "result"
		default:
			vars[i] = fmt.Sprintf("r%d", i)
		}
	}
	return vars
}
