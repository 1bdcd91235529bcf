package protocol

import (
	sdkmath "cosmossdk.io/math"
)

// WithdrawalBreakdown is the pro-rata accounting for one withdrawal: the
// gross amounts leaving the position, the protocol fee on each, and the net
// amounts paid to the owner.
type WithdrawalBreakdown struct {
	WithdrawA uint64
	WithdrawB uint64
	FeeA      uint64
	FeeB      uint64
	NetA      uint64
	NetB      uint64
}

// PlanWithdrawal computes the breakdown for withdrawing percentage of the
// position's totals at the given protocol fee. Percentage must be in (0, 100].
func PlanWithdrawal(totalA, totalB uint64, percentage uint8, feeBps uint16) (WithdrawalBreakdown, error) {
	if percentage == 0 || percentage > 100 {
		return WithdrawalBreakdown{}, ErrInvalidPercentage
	}

	withdrawA, err := scaleByPercent(totalA, percentage)
	if err != nil {
		return WithdrawalBreakdown{}, err
	}
	withdrawB, err := scaleByPercent(totalB, percentage)
	if err != nil {
		return WithdrawalBreakdown{}, err
	}

	feeA, err := ComputeFee(withdrawA, feeBps)
	if err != nil {
		return WithdrawalBreakdown{}, err
	}
	feeB, err := ComputeFee(withdrawB, feeBps)
	if err != nil {
		return WithdrawalBreakdown{}, err
	}

	netA, err := NetAfterFee(withdrawA, feeA)
	if err != nil {
		return WithdrawalBreakdown{}, err
	}
	netB, err := NetAfterFee(withdrawB, feeB)
	if err != nil {
		return WithdrawalBreakdown{}, err
	}

	return WithdrawalBreakdown{
		WithdrawA: withdrawA,
		WithdrawB: withdrawB,
		FeeA:      feeA,
		FeeB:      feeB,
		NetA:      netA,
		NetB:      netB,
	}, nil
}

func scaleByPercent(total uint64, percentage uint8) (uint64, error) {
	v := sdkmath.NewIntFromUint64(total).
		MulRaw(int64(percentage)).
		QuoRaw(100)
	if !v.IsUint64() {
		return 0, ErrMathOverflow
	}
	return v.Uint64(), nil
}
