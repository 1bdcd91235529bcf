package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress_RoundTrip(t *testing.T) {
	original := DeriveAddress([]byte("round"), []byte("trip"))

	parsed, err := ParseAddress(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestParseAddress_RejectsBadInput(t *testing.T) {
	_, err := ParseAddress("not!base58")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	// Valid base58 but the wrong length.
	_, err = ParseAddress("3yZe7d")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddress_IsZero(t *testing.T) {
	assert.True(t, Address{}.IsZero())
	assert.False(t, DeriveAddress([]byte("x")).IsZero())
}

func TestDeriveAddress_Deterministic(t *testing.T) {
	a := DeriveAddress([]byte("vault"), []byte("mint-1"))
	b := DeriveAddress([]byte("vault"), []byte("mint-1"))
	c := DeriveAddress([]byte("vault"), []byte("mint-2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAddress_JSONRoundTrip(t *testing.T) {
	original := DeriveAddress([]byte("json"))

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, original, decoded)
}

func TestPosition_VaultAddressPerMint(t *testing.T) {
	owner := DeriveAddress([]byte("owner"))
	mintA := DeriveAddress([]byte("mint-a"))
	mintB := DeriveAddress([]byte("mint-b"))
	pos := Position{Owner: owner, PositionID: 1, TokenAMint: mintA, TokenBMint: mintB}

	assert.NotEqual(t, pos.VaultAddress(mintA), pos.VaultAddress(mintB))

	other := Position{Owner: owner, PositionID: 2, TokenAMint: mintA, TokenBMint: mintB}
	assert.NotEqual(t, pos.VaultAddress(mintA), other.VaultAddress(mintA),
		"vaults must be distinct per position")
}
