package protocol

import "math"

// RangeStatus classifies the current price, widened by the oracle confidence
// interval, against a position's configured LP range.
type RangeStatus string

const (
	// DefinitelyIn means the whole confidence band sits inside the range.
	DefinitelyIn RangeStatus = "DEFINITELY_IN"
	// DefinitelyOut means the whole confidence band sits outside the range.
	DefinitelyOut RangeStatus = "DEFINITELY_OUT"
	// Ambiguous means the band straddles a range boundary: the true in/out
	// status cannot be determined with statistical confidence, so a
	// rebalance attempt must take no action.
	Ambiguous RangeStatus = "AMBIGUOUS"
)

// ClassifyRange determines where price +/- confidence sits relative to
// [rangeMin, rangeMax]. Exactly one status holds for any input.
func ClassifyRange(price, confidence, rangeMin, rangeMax uint64) RangeStatus {
	var lower uint64
	if price > confidence {
		lower = price - confidence
	}
	upper := price + confidence
	if upper < price { // saturate
		upper = math.MaxUint64
	}

	if lower >= rangeMin && upper <= rangeMax {
		return DefinitelyIn
	}
	if upper < rangeMin || lower > rangeMax {
		return DefinitelyOut
	}
	return Ambiguous
}
