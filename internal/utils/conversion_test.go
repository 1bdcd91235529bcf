package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawToDisplay(t *testing.T) {
	v, err := RawToDisplay(150_000000, 6)
	require.NoError(t, err)
	assert.InDelta(t, 150.0, v, 1e-9)

	v, err = RawToDisplay(1, 6)
	require.NoError(t, err)
	assert.InDelta(t, 0.000001, v, 1e-12)

	v, err = RawToDisplay(0, 6)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestRawToDisplay_InvalidPrecision(t *testing.T) {
	_, err := RawToDisplay(100, -1)
	assert.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = RawToDisplay(100, 19)
	assert.ErrorIs(t, err, ErrInvalidPrecision)
}

func TestDisplayToRaw(t *testing.T) {
	v, err := DisplayToRaw(150.5, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_500000), v)

	v, err = DisplayToRaw(0, 6)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestDisplayToRaw_RoundsAtPrecision(t *testing.T) {
	v, err := DisplayToRaw(1.0000014, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000001), v)

	v, err = DisplayToRaw(1.0000016, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000002), v)
}

func TestDisplayToRaw_RejectsInvalid(t *testing.T) {
	_, err := DisplayToRaw(-1, 6)
	assert.ErrorIs(t, err, ErrAmountNegative)

	_, err = DisplayToRaw(1, 99)
	assert.ErrorIs(t, err, ErrInvalidPrecision)
}

func TestRoundTrip(t *testing.T) {
	for _, raw := range []uint64{0, 1, 999_999, 1_000_000, 150_000000} {
		display, err := RawToDisplay(raw, 6)
		require.NoError(t, err)
		back, err := DisplayToRaw(display, 6)
		require.NoError(t, err)
		assert.Equal(t, raw, back)
	}
}
