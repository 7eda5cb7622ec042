package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(f *Fence, chunks ...string) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(f.Feed(c))
	}
	sb.WriteString(f.Flush())
	return sb.String()
}

func TestFencePlainTextUnchanged(t *testing.T) {
	texts := []string{
		"",
		"Hello, how can I help you today?",
		"We open at 9am and close at 11pm.",
		"Here is a backtick ` and a bracket [ but no markers.",
		"Unicode passes through: merhaba dünya, çok iyi.",
	}
	for _, text := range texts {
		assert.Equal(t, text, feedAll(NewFence(), text), "text: %q", text)
	}
}

func TestFenceSuppressesKeywordFence(t *testing.T) {
	in := "Your table is booked. ```handoff {\"kind\":\"reservation\",\"payload\":{}}``` See you soon!"
	out := feedAll(NewFence(), in)
	assert.Equal(t, "Your table is booked.  See you soon!", out)
	assert.NotContains(t, out, "handoff")
}

func TestFenceSuppressesTagPair(t *testing.T) {
	in := "Done.<handoff>{\"kind\":\"order\"}</handoff>Anything else?"
	assert.Equal(t, "Done.Anything else?", feedAll(NewFence(), in))
}

func TestFenceSuppressesInlineToken(t *testing.T) {
	in := "Noted [[handoff:eyJraW5kIjoib3JkZXIifQ==]] thanks"
	assert.Equal(t, "Noted  thanks", feedAll(NewFence(), in))
}

func TestFenceMultipleBlocks(t *testing.T) {
	in := "a```x```b<handoff>y</handoff>c"
	assert.Equal(t, "abc", feedAll(NewFence(), in))
}

func TestFenceUnterminatedBlockStaysSuppressed(t *testing.T) {
	f := NewFence()
	got := f.Feed("Before. ```handoff {\"kind\":\"order\"")
	got += f.Flush()
	assert.Equal(t, "Before. ", got)
	assert.True(t, f.InBlock())
}

func TestFenceHeldPrefixReleasedAtFlush(t *testing.T) {
	// A trailing marker prefix that never completes must come back out.
	f := NewFence()
	assert.Equal(t, "price: 10", f.Feed("price: 10``"))
	assert.Equal(t, "``", f.Flush())
}

func TestFenceMarkerSplitAcrossChunks(t *testing.T) {
	f := NewFence()
	var sb strings.Builder
	for _, c := range []string{"hi `", "`", "`handoff {\"k\":1}`", "``", " bye"} {
		sb.WriteString(f.Feed(c))
	}
	sb.WriteString(f.Flush())
	assert.Equal(t, "hi  bye", sb.String())
}

// Splitting the input at any pair of byte offsets must not change the
// sanitized output.
func TestFenceChunkBoundaryInvariance(t *testing.T) {
	texts := []string{
		"plain text with no blocks at all",
		"ok ```handoff {\"kind\":\"order\",\"payload\":{\"qty\":2}}``` done",
		"a<handoff>{\"kind\":\"reservation\"}</handoff>b",
		"x [[handoff:QUJD]] y",
		"tail prefix case ``",
		"nested-ish ```a``` mid <handoff>b</handoff> end",
		"unterminated ```handoff {\"kind\"",
	}
	for _, text := range texts {
		want := feedAll(NewFence(), text)
		for i := 0; i <= len(text); i++ {
			for j := i; j <= len(text); j++ {
				got := feedAll(NewFence(), text[:i], text[i:j], text[j:])
				require.Equal(t, want, got, "text %q split at %d,%d", text, i, j)
			}
		}
	}
}

func TestFenceCustomPairs(t *testing.T) {
	f := NewFence(Pair{Start: "{{", End: "}}"})
	assert.Equal(t, "ab", feedAll(f, "a{{hidden}}b"))
	// Default pairs are not active when custom pairs are supplied.
	assert.Equal(t, "a```b```c", feedAll(NewFence(Pair{Start: "{{", End: "}}"}), "a```b```c"))
}
