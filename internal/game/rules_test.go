package game_test

import (
	"testing"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	Lock    bool `json:"lock"`
	Animate bool `json:"animate"`
}

type sampleRules struct {
	Duration int    `json:"duration"`
	Nested   nested `json:"nested"`
}

func TestMergeRulesPartialNested(t *testing.T) {
	cur := sampleRules{Duration: 5000, Nested: nested{Lock: true, Animate: true}}

	next, err := game.MergeRules(cur, map[string]any{
		"nested": map[string]any{"lock": false},
	})
	require.NoError(t, err)
	assert.Equal(t, 5000, next.Duration)
	assert.False(t, next.Nested.Lock)
	assert.True(t, next.Nested.Animate, "siblings of a patched key are kept")
	assert.True(t, cur.Nested.Lock, "input is not mutated")

	next, err = game.MergeRules(next, map[string]any{"duration": float64(1200)})
	require.NoError(t, err)
	assert.Equal(t, 1200, next.Duration)
}

func TestMergeRulesRejectsBadInput(t *testing.T) {
	cur := sampleRules{Duration: 5000}

	_, err := game.MergeRules(cur, map[string]any{"speed": 3})
	assert.ErrorIs(t, err, game.ErrInvalidRules)

	_, err = game.MergeRules(cur, map[string]any{"duration": "fast"})
	assert.ErrorIs(t, err, game.ErrInvalidRules)

	_, err = game.MergeRules(cur, map[string]any{"nested": map[string]any{"lock": "yes"}})
	assert.ErrorIs(t, err, game.ErrInvalidRules)
}
