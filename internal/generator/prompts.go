package generator

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/dshills/docrag/pkg/types"
)

const basePrompt = `You are an expert technical writer documenting source code.
Generate accurate, complete and helpful documentation for the code element you are given.

Key principles:
1. Be accurate. Never describe behavior that is not evident in the code.
2. Cover parameters, return values, errors and edge cases.
3. Write for developers who will call this code.
4. Follow the requested documentation style consistently.
5. Include a short usage example in a fenced code block.
6. Use Markdown headings to structure the text.
`

var styleGuidance = map[types.DocStyle]string{
	types.StyleGoogle: `
Follow Google style:
- Use clear, concise descriptions
- Document Args, Returns and Raises sections consistently
`,
	types.StyleNumpy: `
Follow NumPy style:
- Use longer descriptions with Parameters and Returns sections
- Include detailed type information
`,
	types.StyleSphinx: `
Follow Sphinx style:
- Use :param name: and :returns: field lists
- Reference related elements with cross-reference roles
`,
	types.StyleAPIReference: `
Generate API reference documentation:
- Focus on technical details and usage patterns
- Document every parameter and return value
- Include error conditions and edge cases
`,
	types.StyleTutorial: `
Generate tutorial documentation:
- Explain how and when to use the code, not only what it does
- Include step-by-step examples
`,
}

// SystemPrompt returns the system message for style. Unknown styles use Google style.
func SystemPrompt(style types.DocStyle) string {
	guidance, ok := styleGuidance[style]
	if !ok {
		guidance = styleGuidance[types.StyleGoogle]
	}
	return basePrompt + guidance
}

// Title returns the documentation title for elem, or the project overview
// title when elem is nil.
func Title(elem *types.CodeElement, projectName string) string {
	if elem == nil {
		return projectName + " - Project Overview"
	}
	return fmt.Sprintf("%s - %s Documentation", elem.Name, elem.Kind.Title())
}

var funcs = template.FuncMap{
	"params": formatParameters,
	"join": func(items []string) string {
		if len(items) == 0 {
			return "None"
		}
		return strings.Join(items, ", ")
	},
	"orNone": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "None"
		}
		return s
	},
	"score": func(v float64) string { return fmt.Sprintf("%.2f", v) },
}

var prompts = template.Must(template.New("prompts").Funcs(funcs).Parse(`
{{define "element"}}- Name: {{.Element.Name}}
- Qualified name: {{.Element.QualifiedName}}
- Signature: {{orNone .Element.Signature}}
- File: {{.FilePath}} (lines {{.Element.StartLine}}-{{.Element.EndLine}})
{{end}}

{{define "source"}}**Source Code:**
` + "```{{.Language}}" + `
{{.Element.Source}}
` + "```" + `

**Existing Doc Comment:**
{{orNone .Element.DocComment}}

**Dependencies:** {{join .Dependencies}}
{{end}}

{{define "function"}}Generate {{.DocType}} documentation for the following {{.Language}} function:

**Function Information:**
{{template "element" .}}- Complexity: {{.Element.Complexity}}

{{template "source" .}}
**Parameters:**
{{params .Element.Parameters}}

**Return Type:** {{orNone .Element.ReturnType}}

Include:
1. A clear description of what the function does
2. Every parameter with its type and meaning
3. The return value and any errors
4. A usage example
5. Important notes or edge cases

Write the documentation in {{.Style}} style.
{{end}}

{{define "method"}}Generate {{.DocType}} documentation for the following {{.Language}} method:

**Method Information:**
{{template "element" .}}- Receiver: {{orNone (index .Element.Metadata "receiver")}}
- Complexity: {{.Element.Complexity}}

{{template "source" .}}
**Parameters:**
{{params .Element.Parameters}}

**Return Type:** {{orNone .Element.ReturnType}}

Include:
1. The purpose of the method within its type
2. Every parameter with its type and meaning
3. The return value and any errors
4. Side effects on the receiver
5. A usage example in the context of the type

Write the documentation in {{.Style}} style.
{{end}}

{{define "class"}}Generate {{.DocType}} documentation for the following {{.Language}} type:

**Type Information:**
{{template "element" .}}
{{template "source" .}}
Include:
1. An overview of the type's purpose
2. Its role in the surrounding package
3. An example showing how to create and use it
4. Important fields and methods
5. Embedded types or implemented interfaces
6. Concurrency guarantees if relevant

Write the documentation in {{.Style}} style.
{{end}}

{{define "module"}}Generate {{.DocType}} documentation for the following {{.Language}} file:

**Module Information:**
- Name: {{.Element.Name}}
- File: {{.FilePath}}
- Dependencies: {{join .Dependencies}}

{{template "source" .}}
Include:
1. An overview of the module's purpose
2. Its main components
3. How it fits into the project
4. Typical usage

Write the documentation as a module overview in {{.Style}} style.
{{end}}

{{define "project"}}Generate an overview of the project {{.ProjectName}}.

**Documented elements:** {{join .Dependencies}}

Include:
1. The purpose of the project
2. Its main packages and components
3. How to get started

Write the documentation in {{.Style}} style.
{{end}}

{{define "improve"}}Improve the following documentation based on the quality assessment.

**Original Documentation:**
{{.Previous}}

**Quality Assessment:**
{{with .PreviousScores}}- Completeness: {{score .Completeness}}
- Clarity: {{score .Clarity}}
- Accuracy: {{score .Accuracy}}
- Overall: {{score .Overall}}
{{else}}- Not available
{{end}}
Rewrite the documentation to address the weakest scores while keeping what is correct.
Mention every parameter by name, describe the return value, quote the signature and add a fenced example.

Provide only the improved documentation.
{{end}}
`))

// promptData is the template view of a Request with defaults applied
type promptData struct {
	Request
	Language string
	DocType  types.DocType
	Style    types.DocStyle
}

// UserPrompt renders the user message for req
func UserPrompt(req Request) (string, error) {
	data := promptData{Request: req, Language: req.Language, DocType: req.DocType, Style: req.Style}
	if data.Language == "" {
		data.Language = "go"
	}
	if data.DocType == "" {
		data.DocType = types.DocAPI
	}
	if data.Style == "" {
		data.Style = types.StyleGoogle
	}

	name := templateFor(req)
	var sb strings.Builder
	if req.Improving() {
		if err := prompts.ExecuteTemplate(&sb, "improve", data); err != nil {
			return "", fmt.Errorf("render improve prompt: %w", err)
		}
		sb.WriteString("\n**Context:**\n")
	}
	if err := prompts.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return sb.String(), nil
}

func templateFor(req Request) string {
	if req.Element == nil {
		return "project"
	}
	switch req.Element.Kind {
	case types.KindMethod:
		return "method"
	case types.KindClass:
		return "class"
	case types.KindModule:
		return "module"
	default:
		return "function"
	}
}

func formatParameters(params []types.Parameter) string {
	if len(params) == 0 {
		return "None"
	}
	lines := make([]string, 0, len(params))
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "any"
		}
		line := fmt.Sprintf("- %s: %s", p.Name, typ)
		if p.Default != "" {
			line += " = " + p.Default
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
