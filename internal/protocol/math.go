/*

This file contains the checked fixed-point arithmetic used throughout the
protocol: oracle price normalization, basis-point fee computation, and the
bucket-balance add/sub helpers. Wide intermediates go through sdkmath.Int so a
multiply can never silently wrap; anything that does not fit back into a
uint64 fails with ErrMathOverflow.

*/

package protocol

import (
	sdkmath "cosmossdk.io/math"
)

// NormalizePrice converts an oracle (mantissa, exponent) price to a fixed
// targetDecimals integer. The exponent counts decimal places, so
// exponent = -8 means the raw value carries 8 decimals. Non-positive raw
// prices are never valid and fail with ErrStalePriceData. Division truncates.
func NormalizePrice(rawPrice int64, exponent int32, targetDecimals uint8) (uint64, error) {
	if rawPrice <= 0 {
		return 0, ErrStalePriceData
	}

	srcDecimals := int(-exponent)
	price := sdkmath.NewInt(rawPrice)

	switch {
	case srcDecimals > int(targetDecimals):
		price = price.Quo(pow10(srcDecimals - int(targetDecimals)))
	case srcDecimals < int(targetDecimals):
		price = price.Mul(pow10(int(targetDecimals) - srcDecimals))
	}

	if !price.IsUint64() {
		return 0, ErrMathOverflow
	}
	return price.Uint64(), nil
}

// ComputeFee returns amount * feeBps / 10000, truncated.
func ComputeFee(amount uint64, feeBps uint16) (uint64, error) {
	fee := sdkmath.NewIntFromUint64(amount).
		MulRaw(int64(feeBps)).
		QuoRaw(bpsDenominator)
	if !fee.IsUint64() {
		return 0, ErrMathOverflow
	}
	return fee.Uint64(), nil
}

// NetAfterFee returns amount - fee with an underflow check.
func NetAfterFee(amount, fee uint64) (uint64, error) {
	if fee > amount {
		return 0, ErrMathOverflow
	}
	return amount - fee, nil
}

// CheckedAdd returns a + b or ErrMathOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrMathOverflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrMathOverflow
	}
	return a - b, nil
}

func pow10(n int) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, n)
}
