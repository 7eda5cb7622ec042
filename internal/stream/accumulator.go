package stream

import "strings"

// DefaultAccumulatorCap bounds the accumulated transcript. Handoff blocks sit
// near the end of a turn, so the cap drops the oldest text, never the newest.
const DefaultAccumulatorCap = 64 * 1024

// Accumulator collects the raw, unsanitized text of one in-flight request in
// arrival order. This is the only copy that still contains the structured
// block the extractor needs; the client sees the sanitized stream instead.
// Not safe for concurrent use; each request owns its own instance.
type Accumulator struct {
	sb  strings.Builder
	cap int
}

// NewAccumulator returns an accumulator bounded by DefaultAccumulatorCap.
func NewAccumulator() *Accumulator {
	return &Accumulator{cap: DefaultAccumulatorCap}
}

// NewAccumulatorWithCap returns an accumulator with an explicit byte bound.
// A non-positive cap means unbounded.
func NewAccumulatorWithCap(n int) *Accumulator {
	return &Accumulator{cap: n}
}

// Append adds one raw text fragment.
func (a *Accumulator) Append(fragment string) {
	a.sb.WriteString(fragment)
	if a.cap > 0 && a.sb.Len() > a.cap {
		// Keep the most recent cap bytes, clipped forward to a rune boundary
		// so the kept text stays valid UTF-8. Rebuilding is fine: the cap is
		// generous and overflow means the upstream is already misbehaving.
		s := a.sb.String()
		cut := len(s) - a.cap
		for cut < len(s) && s[cut]&0xC0 == 0x80 {
			cut++
		}
		a.sb.Reset()
		a.sb.WriteString(s[cut:])
	}
}

// String returns everything accumulated so far.
func (a *Accumulator) String() string {
	return a.sb.String()
}

// Len returns the current accumulated size in bytes.
func (a *Accumulator) Len() int {
	return a.sb.Len()
}

// Tail returns at most n trailing bytes of the accumulated text, clipped to
// a rune boundary so the excerpt stays valid UTF-8.
func (a *Accumulator) Tail(n int) string {
	s := a.sb.String()
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut++
	}
	return s[cut:]
}
