package stream

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestAccumulatorAppendOrder(t *testing.T) {
	a := NewAccumulator()
	a.Append("Hello ")
	a.Append("")
	a.Append("world")
	assert.Equal(t, "Hello world", a.String())
	assert.Equal(t, 11, a.Len())
}

func TestAccumulatorKeepsNewestOnOverflow(t *testing.T) {
	a := NewAccumulatorWithCap(10)
	a.Append("0123456789")
	a.Append("ABCDE")
	assert.Equal(t, "56789ABCDE", a.String())
	assert.Equal(t, 10, a.Len())
}

// Overflow truncation must not cut a multibyte rune in half.
func TestAccumulatorOverflowRuneBoundary(t *testing.T) {
	a := NewAccumulatorWithCap(7)
	a.Append("abcde")
	a.Append("ığüş") // two bytes each; a 7-byte cap lands inside ı
	got := a.String()
	assert.True(t, utf8.ValidString(got), "got=%q", got)
	assert.Equal(t, "ğüş", got)
}

func TestAccumulatorUnboundedWhenCapZero(t *testing.T) {
	a := NewAccumulatorWithCap(0)
	a.Append(strings.Repeat("x", DefaultAccumulatorCap+100))
	assert.Equal(t, DefaultAccumulatorCap+100, a.Len())
}

func TestAccumulatorTail(t *testing.T) {
	a := NewAccumulator()
	a.Append("call me at 555-0101")
	assert.Equal(t, "555-0101", a.Tail(8))
	assert.Equal(t, a.String(), a.Tail(1000))
}

func TestAccumulatorTailRuneBoundary(t *testing.T) {
	a := NewAccumulator()
	a.Append("isim: Yılmaz") // ı is two bytes
	for n := 1; n < a.Len(); n++ {
		tail := a.Tail(n)
		assert.True(t, utf8.ValidString(tail), "n=%d tail=%q", n, tail)
		assert.True(t, len(tail) <= n)
	}
}
