package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusDraft.CanTransition(StatusSubmitted))
	require.True(t, StatusSubmitted.CanTransition(StatusEvaluating))
	require.True(t, StatusEvaluating.CanTransition(StatusQualified))
	require.True(t, StatusEvaluating.CanTransition(StatusUnqualified))

	require.False(t, StatusDraft.CanTransition(StatusEvaluating))
	require.False(t, StatusSubmitted.CanTransition(StatusQualified))
	require.False(t, StatusEvaluating.CanTransition(StatusSubmitted))
	require.False(t, StatusQualified.CanTransition(StatusUnqualified))
	require.False(t, StatusUnqualified.CanTransition(StatusEvaluating))
	require.True(t, StatusQualified.Terminal())
	require.False(t, StatusEvaluating.Terminal())
}

func TestParseMetalRejectsUnknown(t *testing.T) {
	m, err := ParseMetal(" Gold ")
	require.NoError(t, err)
	require.Equal(t, MetalGold, m)

	var metals []Metal
	require.Error(t, json.Unmarshal([]byte(`["gold","platinum"]`), &metals))
}

func TestCloneIsDeep(t *testing.T) {
	c := Contribution{Metals: []Metal{MetalGold}, Metadata: map[string]any{"a": 1}}
	cp := c.Clone()
	cp.Metals[0] = MetalCopper
	cp.Metadata["a"] = 2
	require.Equal(t, MetalGold, c.Metals[0])
	require.Equal(t, 1, c.Metadata["a"])
}
