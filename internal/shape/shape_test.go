package shape

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gab-lang/gab/internal/value"
)

func key(s string) value.Value {
	v, ok := value.ShortMessage(s)
	if !ok {
		panic("too long")
	}
	return v
}

func TestWithReturnsSameShapeWhenKeyPresent(t *testing.T) {
	tbl := NewTable(value.NewHeap())
	s := tbl.With(tbl.Root(), key("x"))
	same := tbl.With(s, key("x"))
	require.Same(t, s, same)
}

func TestWithGrowsLenAndAppendsKey(t *testing.T) {
	tbl := NewTable(value.NewHeap())
	s := tbl.With(tbl.Root(), key("x"))
	s2 := tbl.With(s, key("y"))
	require.Equal(t, 2, s2.Len())
	require.Equal(t, key("y"), s2.KeyAt(1))
}

func TestTransitionCacheIdentity(t *testing.T) {
	tbl := NewTable(value.NewHeap())
	a := tbl.With(tbl.Root(), key("x"))
	b := tbl.With(tbl.Root(), key("x"))
	require.Same(t, a, b, "equal key sequences from the root must share shape identity")
}

func TestWithoutMirrorsLastSwap(t *testing.T) {
	tbl := NewTable(value.NewHeap())
	s := tbl.With(tbl.Root(), key("x"))
	s = tbl.With(s, key("y"))
	s = tbl.With(s, key("z"))

	s2 := tbl.Without(s, key("x"))
	require.Equal(t, 2, s2.Len())
	require.False(t, s2.Contains(key("x")))
	require.True(t, s2.Contains(key("y")))
	require.True(t, s2.Contains(key("z")))
}

func TestListShapeIsListShaped(t *testing.T) {
	tbl := NewTable(value.NewHeap())
	s := tbl.ListShape(3)
	require.True(t, s.IsListShaped())
	require.Equal(t, 3, s.Len())

	notList := tbl.With(tbl.Root(), key("x"))
	require.False(t, notList.IsListShaped())
}

func TestEmptyShapeIsSharedRoot(t *testing.T) {
	tbl := NewTable(value.NewHeap())
	require.Equal(t, 0, tbl.Root().Len())
}
