// Package diag implements spec.md §6's diagnostic rendering and §7's
// error-kind taxonomy. It is a leaf package (no dependency on lexer,
// parser, compiler, or vm) so that every stage of the pipeline can report
// through the same Error type without import cycles.
package diag

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Status mirrors the two-value host-call result of spec.md §6: every
// `(status, vresult)` pair from parse/compile/build uses one of these.
type Status uint8

const (
	StatusValid Status = iota
	StatusInvalid
)

func (s Status) String() string {
	if s == StatusValid {
		return "valid"
	}
	return "invalid"
}

// Kind enumerates the error kinds named in spec.md §7 (not type names —
// categories used to pick a rendering and, where relevant, a recovery
// policy).
type Kind string

const (
	KindMalformedString     Kind = "malformed-string"
	KindMalformedToken      Kind = "malformed-token"
	KindUnexpectedEOF       Kind = "unexpected-eof"
	KindUnexpectedToken     Kind = "unexpected-token"
	KindMalformedExpression Kind = "malformed-expression"

	KindUnboundSymbol      Kind = "unbound-symbol"
	KindCapturedAssignment Kind = "captured-assignment"
	KindMalformedAssign    Kind = "malformed-assignment"

	KindTypeMismatch Kind = "type-mismatch"

	KindNoImplementation Kind = "no-implementation"

	KindKeyMissing     Kind = "key-missing"
	KindChannelClosed  Kind = "channel-closed"
	KindOverflow       Kind = "overflow"

	KindModuleNotFound  Kind = "module-not-found"
	KindModuleLoadFailed Kind = "module-load-failed"
)

// Source retains a compiled unit's text and per-line offsets for the life
// of the engine, so diagnostics can render a caret under the offending
// byte range (spec.md §6, supplemented from original_source's per-line
// retention in `gab_src`).
type Source struct {
	Name  string
	Text  string
	lines []int // byte offset of the start of each line (0-indexed)
}

func NewSource(name, text string) *Source {
	s := &Source{Name: name, Text: text, lines: []int{0}}
	for i, c := range text {
		if c == '\n' && i+1 < len(text) {
			s.lines = append(s.lines, i+1)
		}
	}
	return s
}

// LineCol converts a byte offset into a 1-based (line, column) pair.
func (s *Source) LineCol(offset int) (line, col int) {
	line = 1
	for i := 1; i < len(s.lines); i++ {
		if s.lines[i] > offset {
			break
		}
		line = i + 1
	}
	col = offset - s.lines[line-1] + 1
	return
}

// Line returns the raw text of the given 1-based line number.
func (s *Source) Line(n int) string {
	if n < 1 || n > len(s.lines) {
		return ""
	}
	start := s.lines[n-1]
	end := len(s.Text)
	if n < len(s.lines) {
		end = s.lines[n]
	}
	line := s.Text[start:end]
	return strings.TrimRight(line, "\n")
}

// TokenRef locates the token a diagnostic is anchored to, independent of
// any particular lexer/parser Token type (kept here to avoid an import
// cycle back into those packages).
type TokenRef struct {
	Kind       string
	Row        int
	ColBegin   int
	ColEnd     int
	ByteBegin  int
	ByteEnd    int
}

// Error is the canonical diagnostic record (spec.md §6 "Errors carry
// {status, src, token, message, note}").
type Error struct {
	Status  Status
	SrcName string
	Token   TokenRef
	Kind    Kind
	Message string
	Note    string
}

func (e *Error) Error() string { return e.Message }

// Structured renders the colon-delimited form named in spec.md §6:
// status:src:tok_kind:msg:row:col_begin:col_end:byte_begin:byte_end
func (e *Error) Structured() string {
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d:%d:%d:%d",
		e.Status, e.SrcName, e.Token.Kind, e.Message,
		e.Token.Row, e.Token.ColBegin, e.Token.ColEnd, e.Token.ByteBegin, e.Token.ByteEnd)
}

// MarshalCBOR produces the deterministic structured encoding of e, for an
// embedder that wants a compact typed wire form alongside Structured's
// colon-delimited text (spec.md §6 "two renderings are supported").
// Grounded on the teacher's CanonicalPlan.MarshalBinary: a CanonicalEncOptions
// EncMode plus a defined-type alias to dodge the recursive-MarshalBinary
// trap a cbor.Marshaler method on Error itself would otherwise hit.
func (e *Error) MarshalCBOR() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	type errorAlias Error
	return encMode.Marshal((*errorAlias)(e))
}

// Pretty renders an ANSI-colored multi-line form with a source excerpt and
// a caret under the offending range, reconstructing it from the retained
// Source rather than anything captured at error-construction time.
func (e *Error) Pretty(src *Source) string {
	var b strings.Builder
	const (
		red   = "\x1b[31m"
		bold  = "\x1b[1m"
		reset = "\x1b[0m"
	)
	fmt.Fprintf(&b, "%s%serror%s: %s\n", bold, red, reset, e.Message)
	if src != nil && e.Token.Row >= 1 {
		line := src.Line(e.Token.Row)
		fmt.Fprintf(&b, "  %s--> %s:%d:%d\n", reset, e.SrcName, e.Token.Row, e.Token.ColBegin)
		fmt.Fprintf(&b, "   |\n")
		fmt.Fprintf(&b, "%3d| %s\n", e.Token.Row, line)
		fmt.Fprintf(&b, "   | %s%s%s\n", strings.Repeat(" ", max(0, e.Token.ColBegin-1)), caret(e.Token.ColBegin, e.Token.ColEnd), reset)
		if e.Note != "" {
			fmt.Fprintf(&b, "   = note: %s\n", e.Note)
		}
	}
	return b.String()
}

func caret(begin, end int) string {
	n := end - begin
	if n < 1 {
		n = 1
	}
	return "\x1b[31m" + strings.Repeat("^", n)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// New builds an invalid-status Error of the given kind.
func New(kind Kind, srcName string, tok TokenRef, message string) *Error {
	return &Error{Status: StatusInvalid, SrcName: srcName, Token: tok, Kind: kind, Message: message}
}

// WithNote attaches an explanatory note (e.g. a "did you mean" suggestion)
// and returns the same Error for chaining.
func (e *Error) WithNote(note string) *Error {
	e.Note = note
	return e
}

// Ring is a bounded FIFO of the most recent errors, one per engine
// (spec.md's supplemented "error ring buffer", see SPEC_FULL.md §3).
type Ring struct {
	buf   []*Error
	cap   int
	start int
	count int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 32
	}
	return &Ring{buf: make([]*Error, capacity), cap: capacity}
}

func (r *Ring) Push(e *Error) {
	idx := (r.start + r.count) % r.cap
	r.buf[idx] = e
	if r.count < r.cap {
		r.count++
	} else {
		r.start = (r.start + 1) % r.cap
	}
}

func (r *Ring) Recent() []*Error {
	out := make([]*Error, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%r.cap]
	}
	return out
}
