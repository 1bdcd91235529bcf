/*

This file defines the external venue boundary. The LP venue and the lending
venue are opaque services identified by handles; the engine only moves whole
bucket balances in and out of them. A failed venue call fails the whole
instruction, so the ledger never records a transition the venue did not make.

*/

package venue

import (
	"context"

	"github.com/meridianfi/reallocator/internal/types"
)

// LiquidityVenue is the liquidity-provisioning market funds are deployed to
// while price is inside the position's range.
type LiquidityVenue interface {
	// OpenPosition deploys the amounts into an LP position covering
	// [rangeMin, rangeMax] and returns its handle.
	OpenPosition(ctx context.Context, owner types.Address, positionID uint64, amountA, amountB, rangeMin, rangeMax uint64) (string, error)

	// ClosePosition unwinds the LP position and returns the recovered
	// amounts.
	ClosePosition(ctx context.Context, handle string) (amountA, amountB uint64, err error)
}

// LendingVenue is the lending market funds are parked in while price is out
// of range.
type LendingVenue interface {
	// Deposit supplies the amounts and returns an obligation handle.
	Deposit(ctx context.Context, owner types.Address, positionID uint64, amountA, amountB uint64) (string, error)

	// Withdraw redeems the whole obligation and returns the amounts.
	Withdraw(ctx context.Context, handle string) (amountA, amountB uint64, err error)
}

// SwapSuggestion describes a swap that would bring the two balances to a
// 50/50 USD-value split before opening an LP position.
type SwapSuggestion struct {
	SwapAToB bool
	AmountIn uint64
}

// SwapQuoter suggests a rebalancing swap for LP entry. Implementations may
// be no-ops.
type SwapQuoter interface {
	Quote(currentPrice, amountA, amountB uint64) (SwapSuggestion, error)
}

// NoSwapQuoter never suggests a swap. Swap routing is an external capability
// the protocol treats as optional.
type NoSwapQuoter struct{}

func (NoSwapQuoter) Quote(_, _, _ uint64) (SwapSuggestion, error) {
	return SwapSuggestion{}, nil
}
