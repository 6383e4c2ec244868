package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDudEquivalentEdgeCases(t *testing.T) {
	assert.Equal(t, 1.0, dudEquivalent(-1, 10))
	assert.InDelta(t, 1.0/3.0, dudEquivalent(1, -1), 1e-9)
	assert.Equal(t, 1.0, dudEquivalent(6, 6))
	assert.Equal(t, 0.0, dudEquivalent(0, 6))
}

func TestDudEquivalentTypicalCase(t *testing.T) {
	d := dudEquivalent(1, 10)
	assert.Greater(t, d, 0.0)
	assert.Less(t, d, 1.0)
}

func TestCombBasic(t *testing.T) {
	assert.Equal(t, 1.0, comb(5, 0))
	assert.Equal(t, 5.0, comb(5, 1))
	assert.Equal(t, 10.0, comb(5, 2))
	assert.Equal(t, 0.0, comb(2, 5))
}

func TestConfidenceMonotonicAndCapped(t *testing.T) {
	assert.Equal(t, 0.0, confidence(0, 0))
	low := confidence(1, 0)
	high := confidence(10, 0)
	assert.Less(t, low, high)
	assert.LessOrEqual(t, confidence(100, 100), 95.0)
}

func TestRecommendBands(t *testing.T) {
	assert.Equal(t, "more tests needed", recommend(90, 10))
	assert.Equal(t, "likely ALIVE", recommend(85, 60))
	assert.Equal(t, "possibly ALIVE", recommend(65, 45))
	assert.Equal(t, "uncertain", recommend(40, 55))
	assert.Equal(t, "likely DEAD", recommend(10, 65))
	assert.Equal(t, "inconclusive", recommend(50, 35))
}
