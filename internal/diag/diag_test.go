package diag

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestStructuredRendering(t *testing.T) {
	e := New(KindUnboundSymbol, "main.gab", TokenRef{Kind: "SYMBOL", Row: 3, ColBegin: 5, ColEnd: 8, ByteBegin: 20, ByteEnd: 23}, "unbound symbol 'foo'")
	got := e.Structured()
	require.Equal(t, "invalid:main.gab:SYMBOL:unbound symbol 'foo':3:5:8:20:23", got)
}

func TestPrettyIncludesSourceLine(t *testing.T) {
	src := NewSource("main.gab", "x = 1\nfoo + 2\n")
	e := New(KindUnboundSymbol, "main.gab", TokenRef{Kind: "SYMBOL", Row: 2, ColBegin: 1, ColEnd: 4}, "unbound symbol 'foo'")
	out := e.Pretty(src)
	require.Contains(t, out, "foo + 2")
	require.Contains(t, out, "unbound symbol 'foo'")
}

func TestSourceLineCol(t *testing.T) {
	src := NewSource("t", "abc\ndef\nghi")
	line, col := src.LineCol(5) // 'e' in "def"
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)
}

func TestMarshalCBORRoundTrips(t *testing.T) {
	e := New(KindUnboundSymbol, "main.gab", TokenRef{Kind: "SYMBOL", Row: 3, ColBegin: 5, ColEnd: 8}, "unbound symbol 'foo'")
	e.Note = "did you mean 'food'?"

	data, err := e.MarshalCBOR()
	require.NoError(t, err)

	var got Error
	require.NoError(t, cbor.Unmarshal(data, &got))
	require.Equal(t, e.Status, got.Status)
	require.Equal(t, e.SrcName, got.SrcName)
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, e.Message, got.Message)
	require.Equal(t, e.Note, got.Note)
}

func TestRingWrapsAtCapacity(t *testing.T) {
	r := NewRing(2)
	r.Push(New(KindUnboundSymbol, "a", TokenRef{}, "first"))
	r.Push(New(KindUnboundSymbol, "a", TokenRef{}, "second"))
	r.Push(New(KindUnboundSymbol, "a", TokenRef{}, "third"))

	recent := r.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, "second", recent[0].Message)
	require.Equal(t, "third", recent[1].Message)
}
