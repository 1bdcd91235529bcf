package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRange_DefinitelyIn(t *testing.T) {
	// Band [149, 151] sits fully inside [100, 200].
	status := ClassifyRange(150_000000, 1_000000, 100_000000, 200_000000)
	assert.Equal(t, DefinitelyIn, status)
}

func TestClassifyRange_DefinitelyOut_Above(t *testing.T) {
	status := ClassifyRange(250_000000, 1_000000, 100_000000, 200_000000)
	assert.Equal(t, DefinitelyOut, status)
}

func TestClassifyRange_DefinitelyOut_Below(t *testing.T) {
	status := ClassifyRange(50_000000, 1_000000, 100_000000, 200_000000)
	assert.Equal(t, DefinitelyOut, status)
}

func TestClassifyRange_AmbiguousAtLowerBoundary(t *testing.T) {
	// Price just above rangeMin but the band dips below it.
	status := ClassifyRange(100_500000, 1_000000, 100_000000, 200_000000)
	assert.Equal(t, Ambiguous, status)
}

func TestClassifyRange_AmbiguousAtUpperBoundary(t *testing.T) {
	status := ClassifyRange(199_500000, 1_000000, 100_000000, 200_000000)
	assert.Equal(t, Ambiguous, status)
}

func TestClassifyRange_ZeroConfidence(t *testing.T) {
	// With no confidence band the classification is a pure bounds check.
	assert.Equal(t, DefinitelyIn, ClassifyRange(100_000000, 0, 100_000000, 200_000000))
	assert.Equal(t, DefinitelyIn, ClassifyRange(200_000000, 0, 100_000000, 200_000000))
	assert.Equal(t, DefinitelyOut, ClassifyRange(99_999999, 0, 100_000000, 200_000000))
	assert.Equal(t, DefinitelyOut, ClassifyRange(200_000001, 0, 100_000000, 200_000000))
}

func TestClassifyRange_ConfidenceExceedsPrice(t *testing.T) {
	// Lower bound saturates at zero rather than wrapping.
	status := ClassifyRange(5, 10, 100, 200)
	assert.Equal(t, DefinitelyOut, status)

	// Wide enough to straddle the lower boundary.
	assert.Equal(t, Ambiguous, ClassifyRange(50, 60, 100, 200))
}

func TestClassifyRange_UpperSaturates(t *testing.T) {
	status := ClassifyRange(math.MaxUint64-1, 10, 100, 200)
	assert.Equal(t, DefinitelyOut, status)
}

func TestClassifyRange_ExactlyOneStatus(t *testing.T) {
	prices := []uint64{0, 1, 99_999999, 100_000000, 150_000000, 200_000000, 200_000001, math.MaxUint64}
	confidences := []uint64{0, 1, 1_000000, 100_000000, math.MaxUint64}

	for _, p := range prices {
		for _, c := range confidences {
			status := ClassifyRange(p, c, 100_000000, 200_000000)
			assert.Contains(t, []RangeStatus{DefinitelyIn, DefinitelyOut, Ambiguous}, status,
				"price %d conf %d", p, c)
		}
	}
}
