package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/meridianfi/reallocator/internal/types"
)

// SimLiquidityVenue is an in-memory LP venue used in simulation mode and
// tests. Deployed amounts come back exactly as deposited.
type SimLiquidityVenue struct {
	mu        sync.Mutex
	positions map[string]simHolding

	// FailNext, when set, makes the next call fail with that error and
	// clears itself. Used to exercise all-or-nothing instruction behavior.
	FailNext error
}

type simHolding struct {
	amountA uint64
	amountB uint64
}

func NewSimLiquidityVenue() *SimLiquidityVenue {
	return &SimLiquidityVenue{positions: make(map[string]simHolding)}
}

func (v *SimLiquidityVenue) takeFailure() error {
	err := v.FailNext
	v.FailNext = nil
	return err
}

func (v *SimLiquidityVenue) OpenPosition(_ context.Context, _ types.Address, _ uint64, amountA, amountB, _, _ uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return "", err
	}

	handle := uuid.NewString()
	v.positions[handle] = simHolding{amountA: amountA, amountB: amountB}
	return handle, nil
}

func (v *SimLiquidityVenue) ClosePosition(_ context.Context, handle string) (uint64, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return 0, 0, err
	}

	holding, ok := v.positions[handle]
	if !ok {
		return 0, 0, fmt.Errorf("unknown lp position handle %s", handle)
	}
	delete(v.positions, handle)
	return holding.amountA, holding.amountB, nil
}

// SimLendingVenue is an in-memory lending venue used in simulation mode and
// tests.
type SimLendingVenue struct {
	mu          sync.Mutex
	obligations map[string]simHolding

	FailNext error
}

func NewSimLendingVenue() *SimLendingVenue {
	return &SimLendingVenue{obligations: make(map[string]simHolding)}
}

func (v *SimLendingVenue) takeFailure() error {
	err := v.FailNext
	v.FailNext = nil
	return err
}

func (v *SimLendingVenue) Deposit(_ context.Context, _ types.Address, _ uint64, amountA, amountB uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return "", err
	}

	handle := uuid.NewString()
	v.obligations[handle] = simHolding{amountA: amountA, amountB: amountB}
	return handle, nil
}

func (v *SimLendingVenue) Withdraw(_ context.Context, handle string) (uint64, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return 0, 0, err
	}

	holding, ok := v.obligations[handle]
	if !ok {
		return 0, 0, fmt.Errorf("unknown lending obligation %s", handle)
	}
	delete(v.obligations, handle)
	return holding.amountA, holding.amountB, nil
}
