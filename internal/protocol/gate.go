package protocol

import (
	"github.com/meridianfi/reallocator/internal/types"
)

// ShouldRebalance decides whether a rebalance is worth executing now. It
// gates on the cooldown since the last rebalance, on a minimum price movement
// in basis points, and finally on whether the position's fund distribution
// actually warrants a state change for the classified range. The returned
// reason names the failed gate for logging.
func ShouldRebalance(pos *types.Position, currentPrice, currentSlot uint64, inRange bool) (bool, string, error) {
	var elapsed uint64
	if currentSlot > pos.LastRebalanceSlot {
		elapsed = currentSlot - pos.LastRebalanceSlot
	}
	if elapsed < MinSlotsBetweenRebalances {
		return false, "cooldown", nil
	}

	if pos.LastRebalancePrice > 0 {
		var change uint64
		if currentPrice > pos.LastRebalancePrice {
			change = currentPrice - pos.LastRebalancePrice
		} else {
			change = pos.LastRebalancePrice - currentPrice
		}

		scaled, err := CheckedMulBps(change)
		if err != nil {
			return false, "", err
		}
		changeBps := scaled / pos.LastRebalancePrice
		if changeBps < RebalanceThresholdBps {
			return false, "below_threshold", nil
		}
	}

	// Only act when the distribution is wrong for the range, or idle funds
	// are waiting to be deployed.
	needed := (inRange && pos.HasLending()) ||
		(!inRange && pos.HasLP()) ||
		pos.HasIdle()
	if !needed {
		return false, "nothing_to_do", nil
	}
	return true, "", nil
}

// CheckedMulBps multiplies a price delta by the bps denominator with an
// overflow check.
func CheckedMulBps(v uint64) (uint64, error) {
	scaled := v * bpsDenominator
	if v != 0 && scaled/bpsDenominator != v {
		return 0, ErrMathOverflow
	}
	return scaled, nil
}
