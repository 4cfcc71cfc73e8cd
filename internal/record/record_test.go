package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gab-lang/gab/internal/shape"
	"github.com/gab-lang/gab/internal/value"
)

func key(s string) value.Value {
	v, ok := value.ShortMessage(s)
	if !ok {
		panic("too long")
	}
	return v
}

func newTable() *Table {
	h := value.NewHeap()
	shapes := shape.NewTable(h)
	return NewTable(h, shapes)
}

func TestPutThenAt(t *testing.T) {
	tbl := newTable()
	r := tbl.Empty()
	r = tbl.Put(r, key("x"), value.Int(1))
	r = tbl.Put(r, key("y"), value.Int(2))

	v, ok := tbl.At(r, key("x"))
	require.True(t, ok)
	require.Equal(t, value.Int(1), v)

	v, ok = tbl.At(r, key("y"))
	require.True(t, ok)
	require.Equal(t, value.Int(2), v)

	require.True(t, r.Shape.Contains(key("x")))
	require.True(t, r.Shape.Contains(key("y")))
}

func TestPutOverwriteExistingKey(t *testing.T) {
	tbl := newTable()
	r := tbl.Empty()
	r = tbl.Put(r, key("x"), value.Int(1))
	r2 := tbl.Put(r, key("x"), value.Int(99))

	v, _ := tbl.At(r2, key("x"))
	require.Equal(t, value.Int(99), v)

	// original unaffected (persistence)
	v, _ = tbl.At(r, key("x"))
	require.Equal(t, value.Int(1), v)
}

func TestTakeRemovesKeyAndShrinksLen(t *testing.T) {
	tbl := newTable()
	r := tbl.Empty()
	r = tbl.Put(r, key("x"), value.Int(1))
	r = tbl.Put(r, key("y"), value.Int(2))

	before := tbl.Len(r)
	r2 := tbl.Take(r, key("x"))
	require.Equal(t, before-1, tbl.Len(r2))
	_, ok := tbl.At(r2, key("x"))
	require.False(t, ok)

	v, ok := tbl.At(r2, key("y"))
	require.True(t, ok)
	require.Equal(t, value.Int(2), v)
}

func TestPersistentSharingAfterPut(t *testing.T) {
	tbl := newTable()
	r := tbl.Empty()
	for i := 0; i < 40; i++ { // force multiple trie levels (> branch factor 32)
		r = tbl.Put(r, value.Int(int64(i)), value.Int(int64(i*10)))
	}

	r2 := tbl.Put(r, key("new"), value.Int(-1))

	for i := 0; i < tbl.Len(r); i++ {
		require.Equal(t, tbl.UVAt(r, i), tbl.UVAt(r2, i))
	}
	require.Equal(t, tbl.Len(r)+1, tbl.Len(r2))
}

func TestIterateInShapeKeyOrder(t *testing.T) {
	tbl := newTable()
	r := tbl.Empty()
	names := []string{"a", "b", "c", "d"}
	for i, n := range names {
		r = tbl.Put(r, key(n), value.Int(int64(i)))
	}

	for i := range names {
		require.Equal(t, key(names[i]), tbl.UKAt(r, i))
		require.Equal(t, value.Int(int64(i)), tbl.UVAt(r, i))
	}
}

func TestLargeRecordAcrossTrieLevels(t *testing.T) {
	tbl := newTable()
	r := tbl.Empty()
	const n = 1200
	for i := 0; i < n; i++ {
		r = tbl.Put(r, value.Int(int64(i)), value.Int(int64(i*2)))
	}
	require.Equal(t, n, tbl.Len(r))
	for i := 0; i < n; i++ {
		v, ok := tbl.At(r, value.Int(int64(i)))
		require.True(t, ok)
		require.Equal(t, value.Int(int64(i*2)), v)
	}
}

func TestListShapedRecord(t *testing.T) {
	tbl := newTable()
	r := tbl.Empty()
	r = tbl.Put(r, value.Int(0), value.Int(10))
	r = tbl.Put(r, value.Int(1), value.Int(20))
	require.True(t, r.Shape.IsListShaped())
}
