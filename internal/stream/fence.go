// Package stream implements the upstream-to-client relay: the stateful fence
// sanitizer that hides structured blocks from the user-visible stream, the
// raw-text accumulator the extractor reads at stream end, and the forwarder
// loop that drives both while relaying SSE events to the client.
package stream

import "strings"

// Pair delimits a structured block that must never reach the client as
// visible prose. Text between Start and the next End is suppressed entirely,
// markers included.
type Pair struct {
	Start string
	End   string
}

// DefaultPairs covers every block encoding the handoff extractor understands:
// code fences (keyword-tagged or generic), the explicit tag pair, and the
// inline base64 token.
var DefaultPairs = []Pair{
	{Start: "```", End: "```"},
	{Start: "<handoff>", End: "</handoff>"},
	{Start: "[[handoff:", End: "]]"},
}

// Fence is a stateful streaming scanner that removes fenced blocks from text
// fed to it chunk by chunk. Blocks may straddle any number of chunks; a
// marker itself may be split across chunks. Feed must be called exactly once
// per chunk, in arrival order. The zero value is not usable; call NewFence.
type Fence struct {
	pairs   []Pair
	inBlock bool
	endMark string
	carry   string // held-back tail that may turn out to be a marker prefix
}

// NewFence returns a sanitizer for the given marker pairs, or DefaultPairs
// when none are given.
func NewFence(pairs ...Pair) *Fence {
	if len(pairs) == 0 {
		pairs = DefaultPairs
	}
	return &Fence{pairs: pairs}
}

// Feed consumes the next chunk and returns the portion that is outside any
// fenced block. A chunk that ends mid-block contributes nothing; a chunk that
// ends with a possible marker prefix has that prefix withheld until the next
// Feed or Flush resolves it.
func (f *Fence) Feed(chunk string) string {
	work := f.carry + chunk
	f.carry = ""

	var out strings.Builder
	for work != "" {
		if f.inBlock {
			idx := strings.Index(work, f.endMark)
			if idx < 0 {
				f.carry = heldSuffix(work, []string{f.endMark})
				return out.String()
			}
			work = work[idx+len(f.endMark):]
			f.inBlock = false
			continue
		}

		idx, pair := f.earliestStart(work)
		if idx < 0 {
			held := heldSuffix(work, f.starts())
			out.WriteString(work[:len(work)-len(held)])
			f.carry = held
			return out.String()
		}
		out.WriteString(work[:idx])
		work = work[idx+len(pair.Start):]
		f.inBlock = true
		f.endMark = pair.End
	}
	return out.String()
}

// Flush releases any withheld tail. Call once, after the final chunk. Text
// withheld inside an unterminated block stays suppressed.
func (f *Fence) Flush() string {
	out := f.carry
	f.carry = ""
	if f.inBlock {
		return ""
	}
	return out
}

// InBlock reports whether the scanner is currently inside a fenced block.
func (f *Fence) InBlock() bool {
	return f.inBlock
}

// earliestStart finds the leftmost start marker in work. Ties on position go
// to the longer marker so "[[handoff:" wins over any shorter overlap.
func (f *Fence) earliestStart(work string) (int, Pair) {
	best := -1
	var bestPair Pair
	for _, p := range f.pairs {
		idx := strings.Index(work, p.Start)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best || (idx == best && len(p.Start) > len(bestPair.Start)) {
			best = idx
			bestPair = p
		}
	}
	return best, bestPair
}

func (f *Fence) starts() []string {
	out := make([]string, len(f.pairs))
	for i, p := range f.pairs {
		out[i] = p.Start
	}
	return out
}

// heldSuffix returns the longest trailing part of work that is a proper
// prefix of any marker. That tail cannot be emitted yet: the next chunk may
// complete the marker.
func heldSuffix(work string, markers []string) string {
	maxLen := 0
	for _, m := range markers {
		if len(m)-1 > maxLen {
			maxLen = len(m) - 1
		}
	}
	if maxLen > len(work) {
		maxLen = len(work)
	}
	for k := maxLen; k > 0; k-- {
		tail := work[len(work)-k:]
		for _, m := range markers {
			if strings.HasPrefix(m, tail) {
				return tail
			}
		}
	}
	return ""
}
