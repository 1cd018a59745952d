package chunker

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/docrag/pkg/types"
)

const (
	// DefaultTargetSize is the default chunk size in tokens
	DefaultTargetSize = 256

	// DefaultOverlap is the default number of tokens repeated between windows
	DefaultOverlap = 32
)

var (
	// ErrInvalidTargetSize is returned for a non-positive target size
	ErrInvalidTargetSize = errors.New("target size must be positive")
	// ErrInvalidOverlap is returned when overlap is negative or not below the target size
	ErrInvalidOverlap = errors.New("overlap must be >= 0 and < target size")
)

// Chunker splits documentation text into ordered chunks
type Chunker struct {
	targetSize int
	overlap    int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithTargetSize sets the target chunk size in tokens
func WithTargetSize(tokens int) Option {
	return func(c *Chunker) {
		c.targetSize = tokens
	}
}

// WithOverlap sets the overlap between consecutive windows in tokens
func WithOverlap(tokens int) Option {
	return func(c *Chunker) {
		c.overlap = tokens
	}
}

// New creates a Chunker with the given options
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		targetSize: DefaultTargetSize,
		overlap:    DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.targetSize <= 0 {
		return nil, ErrInvalidTargetSize
	}
	if c.overlap < 0 || c.overlap >= c.targetSize {
		return nil, ErrInvalidOverlap
	}
	return c, nil
}

// Chunk splits text with the given target size and overlap in tokens
func Chunk(text string, targetSize, overlap int) ([]types.Chunk, error) {
	c, err := New(WithTargetSize(targetSize), WithOverlap(overlap))
	if err != nil {
		return nil, err
	}
	return c.Chunk(text), nil
}

// TargetSize returns the configured target size in tokens
func (c *Chunker) TargetSize() int { return c.targetSize }

// Overlap returns the configured overlap in tokens
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into chunks in document order. Structural units are
// packed greedily up to the target size; a prose unit larger than the target
// is split into overlapping token windows. Fenced code blocks are never
// split. Empty text yields no chunks.
func (c *Chunker) Chunk(text string) []types.Chunk {
	if text == "" {
		return []types.Chunk{}
	}

	b := &builder{text: text}
	var pending []unit

	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.emit(pending[0].start, pending[len(pending)-1].end, 0, 0, roleOf(text, pending))
		pending = pending[:0]
	}

	for _, u := range splitUnits(text) {
		if u.tokens > c.targetSize {
			flush()
			if u.kind == unitCode {
				b.emit(u.start, u.end, 0, 0, types.RoleExample)
			} else {
				c.window(b, u)
			}
			continue
		}

		if len(pending) > 0 && (u.kind == unitHeading || pendingTokens(pending)+u.tokens > c.targetSize) {
			flush()
		}
		pending = append(pending, u)
	}
	flush()

	return b.chunks
}

// window splits one oversize prose unit into token windows. Every window
// after the first starts with the last c.overlap tokens of its predecessor.
func (c *Chunker) window(b *builder, u unit) {
	spans := tokenSpans(b.text, u.start, u.end)
	n := len(spans)

	start := 0
	for {
		end := start + c.targetSize
		if end > n {
			end = n
		}

		overlapTokens, overlapBytes := 0, 0
		if start > 0 {
			overlapTokens = c.overlap
			overlapBytes = spans[start+c.overlap].start - spans[start].start
		}
		b.emit(spans[start].start, spans[end-1].end, overlapTokens, overlapBytes, types.RoleContent)

		if end == n {
			return
		}
		start = end - c.overlap
	}
}

// Reconstruct joins chunks back into the original text by dropping each
// chunk's declared overlap.
func Reconstruct(chunks []types.Chunk) string {
	var sb strings.Builder
	for i := range chunks {
		sb.WriteString(chunks[i].Fresh())
	}
	return sb.String()
}

// CountTokens returns the number of whitespace-delimited tokens in s
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

type builder struct {
	text   string
	chunks []types.Chunk
}

func (b *builder) emit(start, end, overlapTokens, overlapBytes int, role types.ChunkRole) {
	body := b.text[start:end]
	b.chunks = append(b.chunks, types.Chunk{
		Index:         len(b.chunks),
		Text:          body,
		Role:          role,
		TokenCount:    CountTokens(body),
		CharCount:     utf8.RuneCountInString(body),
		OverlapTokens: overlapTokens,
		OverlapBytes:  overlapBytes,
	})
}

type unitKind int

const (
	unitParagraph unitKind = iota
	unitHeading
	unitCode
)

// unit is a structural block covering text[start:end], including any
// blank lines that follow it.
type unit struct {
	kind   unitKind
	start  int
	end    int
	tokens int
}

// splitUnits partitions text into contiguous structural units. Blank lines
// before the first unit are attached to it.
func splitUnits(text string) []unit {
	var units []unit
	var cur *unit
	open := false // current paragraph still accepts text lines
	fence := ""   // closing marker while inside a fenced block
	lead := 0     // start of the next unit

	startUnit := func(kind unitKind, at int) {
		if cur != nil {
			units = append(units, *cur)
			lead = cur.end
		}
		if len(units) == 0 {
			at = 0
		} else {
			at = lead
		}
		cur = &unit{kind: kind, start: at, end: at}
	}

	pos := 0
	for pos < len(text) {
		next := strings.IndexByte(text[pos:], '\n')
		lineEnd := len(text)
		if next >= 0 {
			lineEnd = pos + next + 1
		}
		line := text[pos:lineEnd]
		trimmed := strings.TrimSpace(line)

		switch {
		case fence != "":
			cur.end = lineEnd
			if strings.HasPrefix(trimmed, fence) && strings.Trim(trimmed, fence[:1]) == "" {
				fence = ""
			}
		case trimmed == "":
			if cur != nil {
				cur.end = lineEnd
			}
			open = false
		case fenceMarker(line) != "":
			startUnit(unitCode, pos)
			cur.end = lineEnd
			fence = fenceMarker(line)
			open = false
		case isHeading(line):
			startUnit(unitHeading, pos)
			cur.end = lineEnd
			open = false
		default:
			if cur == nil || !open || cur.kind != unitParagraph {
				startUnit(unitParagraph, pos)
			}
			cur.end = lineEnd
			open = true
		}
		pos = lineEnd
	}

	if cur == nil {
		// Whitespace only
		return []unit{{kind: unitParagraph, start: 0, end: len(text)}}
	}
	units = append(units, *cur)

	for i := range units {
		units[i].tokens = CountTokens(text[units[i].start:units[i].end])
	}
	return units
}

// fenceMarker returns the fence run opening a code block, or "" when line
// does not open one.
func fenceMarker(line string) string {
	s := strings.TrimLeft(line, " ")
	if len(line)-len(s) > 3 {
		return ""
	}
	for _, ch := range []byte{'`', '~'} {
		n := 0
		for n < len(s) && s[n] == ch {
			n++
		}
		if n >= 3 {
			return s[:n]
		}
	}
	return ""
}

func isHeading(line string) bool {
	s := strings.TrimLeft(line, " ")
	if len(line)-len(s) > 3 {
		return false
	}
	n := 0
	for n < len(s) && s[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return false
	}
	return n == len(s) || s[n] == ' ' || s[n] == '\t' || s[n] == '\n' || s[n] == '\r'
}

func pendingTokens(units []unit) int {
	total := 0
	for _, u := range units {
		total += u.tokens
	}
	return total
}

type span struct {
	start int
	end   int
}

// tokenSpans covers text[start:end] with one span per token. A token owns
// its trailing whitespace; the first token also owns any leading whitespace.
func tokenSpans(text string, start, end int) []span {
	var spans []span
	inToken := false
	for i, r := range text[start:end] {
		abs := start + i
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			if len(spans) > 0 {
				spans[len(spans)-1].end = abs
			}
			spans = append(spans, span{start: abs})
			inToken = true
		}
	}
	if len(spans) == 0 {
		return []span{{start: start, end: end}}
	}
	spans[0].start = start
	spans[len(spans)-1].end = end
	return spans
}

// roleOf classifies a packed group of units
func roleOf(text string, units []unit) types.ChunkRole {
	allHeadings := true
	hasCode := false
	for _, u := range units {
		if u.kind != unitHeading {
			allHeadings = false
		}
		if u.kind == unitCode {
			hasCode = true
		}
	}

	switch {
	case allHeadings:
		return types.RoleTitle
	case units[0].kind == unitHeading && isSummaryHeading(text[units[0].start:units[0].end]):
		return types.RoleSummary
	case hasCode:
		return types.RoleExample
	default:
		return types.RoleContent
	}
}

func isSummaryHeading(s string) bool {
	title := strings.ToLower(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "#")))
	return strings.HasPrefix(title, "summary") || strings.HasPrefix(title, "overview")
}
