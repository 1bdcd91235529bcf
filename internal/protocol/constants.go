package protocol

import "time"

// Oracle settings
const (
	// PriceMaxAge is the oldest oracle reading the protocol will act on.
	PriceMaxAge = 60 * time.Second

	// PriceDecimals is the fixed decimal scale all prices are normalized to
	// (6-decimal USD).
	PriceDecimals = 6
)

// Protocol limits
const (
	MaxBatchSize = 10
	MaxFeeBps    = 1000 // 10% max fee

	// MinPositionValue is the smallest combined gross deposit accepted
	// ($1 at 6 decimals).
	MinPositionValue = 1_000_000
)

// Rebalancing parameters
const (
	// RebalanceThresholdBps is the minimum price movement since the last
	// rebalance before another one is considered.
	RebalanceThresholdBps = 100 // 1%

	// MinSlotsBetweenRebalances is the cooldown between rebalances of the
	// same position, roughly 10 seconds of ledger time.
	MinSlotsBetweenRebalances = 25

	MaxSlippageBps = 200 // 2% max slippage on venue entry swaps
)

const bpsDenominator = 10_000
