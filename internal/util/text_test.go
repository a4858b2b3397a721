package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	require.Equal(t, "abcd\n\txy", SanitizeText("ab\x00cd\x01\x02\n\txy"))
	require.Equal(t, "", SanitizeText(" \x00 "))
}

func TestDisplaySnippet(t *testing.T) {
	require.Equal(t, "Hello world", DisplaySnippet("Hello\x00   world \n\t", 100))
	require.Equal(t, "epoch 2 Balance", DisplaySnippet("epoch2Balance", 100))
	require.Equal(t, "abcde...", DisplaySnippet("abcdefghij", 5))
}

func TestContextSnippetPrefersSharedTerms(t *testing.T) {
	prior := "Archives keep every submission. Halving applies when density milestones pass. Appendix follows."
	out := ContextSnippet(prior, "A proposal on density halving schedules", 200)
	require.Equal(t, "Halving applies when density milestones pass.", out)

	out = ContextSnippet(prior, "zzz qqq", 30)
	require.True(t, strings.HasPrefix(out, "Archives keep every"))
	require.True(t, strings.HasSuffix(out, "..."))
}

func TestContextSnippetKeepsReadingOrder(t *testing.T) {
	prior := "Ledger replay is deterministic. Nothing here. Replay of the ledger uses sequence numbers."
	out := ContextSnippet(prior, "ledger replay", 500)
	require.Equal(t, "Ledger replay is deterministic. Replay of the ledger uses sequence numbers.", out)
}

func TestChunkTextIsWordAligned(t *testing.T) {
	chunks := ChunkText("alpha beta gamma delta epsilon zeta eta theta", 16, 6)
	require.Equal(t, []string{"alpha beta gamma", "gamma delta", "delta epsilon", "zeta eta theta"}, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 16)
	}

	require.Equal(t, []string{"short"}, ChunkText("short", 0, 0))
	require.Empty(t, ChunkText("   ", 10, 2))
	require.Equal(t, []string{"abcdefghijkl", "mn"}, ChunkText("abcdefghijkl mn", 5, 0))
}
