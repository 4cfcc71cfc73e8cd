package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindsAreMutuallyExclusive(t *testing.T) {
	vs := []Value{
		Number(3.14),
		Number(0),
		mustShort("hi"),
		mustSigil("ok"),
		mustShort("hi").AsBinary(),
		Invalid,
		Timeout,
		FromHandle(5),
	}
	for _, v := range vs {
		count := 0
		for _, b := range []bool{v.IsNumber(), v.IsShortString(), v.IsMessage(), v.IsBinary(), v.IsPrimitive(), v.IsHeap()} {
			if b {
				count++
			}
		}
		require.Equal(t, 1, count, "value %#x should match exactly one kind predicate", uint64(v))
	}
}

func mustShort(s string) Value {
	v, ok := ShortString([]byte(s))
	if !ok {
		panic("too long")
	}
	return v
}

func TestMessageStringRoundTrip(t *testing.T) {
	s := mustShort("msg")
	m := s.AsMessage()
	require.True(t, m.IsMessage())
	back := m.AsShortString()
	require.True(t, back.IsShortString())
	require.Equal(t, s, back)
	require.Equal(t, []byte("msg"), m.ShortBytes())
}

func TestBinaryStringRoundTrip(t *testing.T) {
	s := mustShort("abc")
	b := s.AsBinary()
	require.True(t, b.IsBinary())
	require.Equal(t, s, b.AsShortString())
}

func TestShortStringRawEquality(t *testing.T) {
	a := mustShort("same")
	b := mustShort("same")
	require.True(t, a.Equal(b))
	require.Equal(t, a, b)
}

func TestNumberBoundary(t *testing.T) {
	require.True(t, Number(1.5).IsNumber())
	require.True(t, Number(0).IsNumber())
	require.False(t, mustSigil("ok").IsNumber())
}

func TestPrimitiveOpAndSentinel(t *testing.T) {
	op := PrimitiveOp(42)
	got, ok := op.AsPrimitiveOp()
	require.True(t, ok)
	require.Equal(t, byte(42), got)
	_, ok = op.AsSentinel()
	require.False(t, ok)

	s, ok := Undefined.AsSentinel()
	require.True(t, ok)
	require.Equal(t, SentinelUndefined, s)
}

func TestHeapHandleRoundTrip(t *testing.T) {
	v := FromHandle(1234)
	require.True(t, v.IsHeap())
	require.Equal(t, uint32(1234), v.Handle())
}

func TestTruthy(t *testing.T) {
	require.True(t, Truthy(Number(0)))
	require.True(t, Truthy(True))
	require.False(t, Truthy(False))
	require.False(t, Truthy(Nil))
}
