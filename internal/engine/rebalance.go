/*

This file contains the rebalance instructions: the status query, the
single-position rebalance state machine, and the keeper batch entry point.
Fund distribution transitions move whole buckets between idle, the LP venue,
and the lending venue; the sum per token never changes across a rebalance.

*/

package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/protocol"
	"github.com/meridianfi/reallocator/internal/types"
)

// PositionStatus is the answer to a status query.
type PositionStatus struct {
	PositionID   uint64 `json:"position_id"`
	CurrentPrice uint64 `json:"current_price"`
	InRange      bool   `json:"in_range"`
	HasIdle      bool   `json:"has_idle"`
	HasLP        bool   `json:"has_lp"`
	HasLending   bool   `json:"has_lending"`
	Paused       bool   `json:"paused"`
}

// PositionRef addresses one position in a batch.
type PositionRef struct {
	Owner      types.Address `json:"owner"`
	PositionID uint64        `json:"position_id"`
}

// BatchResult is the per-position outcome of a batch rebalance.
type BatchResult struct {
	Ref    PositionRef
	Action types.RebalanceAction
	Err    error
}

// CheckPositionStatus reports where the position's funds sit relative to the
// current oracle price and emits a PositionStatusEvent.
func (e *Engine) CheckPositionStatus(ctx context.Context, owner types.Address, positionID uint64) (PositionStatus, error) {
	var status PositionStatus

	err := e.registry.View(func(tx ledger.Tx) error {
		pos, ok := tx.Position(owner, positionID)
		if !ok {
			return protocol.ErrInvalidPositionID
		}

		price, _, err := e.normalizedPrice(ctx)
		if err != nil {
			return err
		}

		status = PositionStatus{
			PositionID:   positionID,
			CurrentPrice: price,
			InRange:      price >= pos.LPRangeMin && price <= pos.LPRangeMax,
			HasIdle:      pos.HasIdle(),
			HasLP:        pos.HasLP(),
			HasLending:   pos.HasLending(),
			Paused:       pos.PauseFlag,
		}
		return nil
	})
	if err != nil {
		return PositionStatus{}, err
	}

	e.events.Publish(types.PositionStatusEvent{
		PositionID:   positionID,
		Owner:        owner,
		CurrentPrice: status.CurrentPrice,
		InRange:      status.InRange,
		HasLP:        status.HasLP,
		HasLending:   status.HasLending,
	})
	return status, nil
}

// RebalancePosition runs one rebalance attempt for the position: price
// classification, the go/no-go gate, and if warranted the idle/LP/lending
// transition. Every attempt emits a RebalanceEvent, including no-action
// outcomes.
func (e *Engine) RebalancePosition(ctx context.Context, owner types.Address, positionID uint64) (types.RebalanceAction, error) {
	var event types.RebalanceEvent
	var instrErr error

	err := e.registry.Update(func(tx ledger.Tx) error {
		pos, ok := tx.Position(owner, positionID)
		if !ok {
			return protocol.ErrInvalidPositionID
		}
		if pos.PauseFlag {
			return protocol.ErrPositionPaused
		}

		price, confidence, err := e.normalizedPrice(ctx)
		if err != nil {
			return err
		}

		status := protocol.ClassifyRange(price, confidence, pos.LPRangeMin, pos.LPRangeMax)
		if status == protocol.Ambiguous {
			// The confidence band straddles a range boundary; acting here
			// would be a coin flip, so no balance moves.
			e.log.Debug().Uint64("position_id", positionID).Uint64("price", price).Msg("Price ambiguous at range boundary, skipping rebalance")
			event = types.RebalanceEvent{
				PositionID:   positionID,
				Owner:        owner,
				CurrentPrice: price,
				InRange:      false,
				Action:       types.ActionNone,
			}
			return nil
		}
		inRange := status == protocol.DefinitelyIn

		ok, reason, err := protocol.ShouldRebalance(&pos, price, e.clock.Slot(), inRange)
		if err != nil {
			return err
		}
		if !ok {
			e.log.Debug().Uint64("position_id", positionID).Str("reason", reason).Msg("Rebalance gate declined")
			event = types.RebalanceEvent{
				PositionID:   positionID,
				Owner:        owner,
				CurrentPrice: price,
				InRange:      inRange,
				Action:       types.ActionNone,
			}
			return nil
		}

		effects := &sideEffects{}
		action, err := e.executeRebalance(ctx, &pos, inRange, price, effects)
		if err != nil {
			if effects.empty() {
				return err
			}
			// Part of the transition already reached a venue. Undo those
			// calls and persist the restored position, which may carry a
			// fresh handle for the re-created deployment.
			effects.revert(ctx, e.log)
			tx.PutPosition(pos)
			instrErr = err
			return nil
		}

		pos.LastRebalancePrice = price
		pos.LastRebalanceSlot = e.clock.Slot()
		if pos.TotalRebalances < math.MaxUint64 {
			pos.TotalRebalances++
		}
		tx.PutPosition(pos)

		event = types.RebalanceEvent{
			PositionID:   positionID,
			Owner:        owner,
			CurrentPrice: price,
			InRange:      inRange,
			Action:       action,
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if instrErr != nil {
		return "", instrErr
	}

	e.events.Publish(event)
	e.log.Info().
		Uint64("position_id", positionID).
		Uint64("price", event.CurrentPrice).
		Bool("in_range", event.InRange).
		Str("action", string(event.Action)).
		Msg("Rebalance attempt finished")
	return event.Action, nil
}

// RebalanceBatch runs rebalance attempts for up to MaxBatchSize positions on
// behalf of the registered keeper. Each position is its own atomic
// instruction: one failing position is recorded in its result and does not
// roll back the others.
func (e *Engine) RebalanceBatch(ctx context.Context, caller types.Address, refs []PositionRef) ([]BatchResult, error) {
	if len(refs) > protocol.MaxBatchSize {
		return nil, protocol.ErrBatchTooLarge
	}

	var keeper types.Address
	err := e.registry.View(func(tx ledger.Tx) error {
		authority, ok := tx.Protocol()
		if !ok {
			return fmt.Errorf("%w: protocol not initialized", protocol.ErrExternalProtocol)
		}
		keeper = authority.Keeper
		return nil
	})
	if err != nil {
		return nil, err
	}
	if caller != keeper {
		return nil, protocol.ErrUnauthorizedKeeper
	}

	results := make([]BatchResult, 0, len(refs))
	for _, ref := range refs {
		action, err := e.RebalancePosition(ctx, ref.Owner, ref.PositionID)
		results = append(results, BatchResult{Ref: ref, Action: action, Err: err})
	}
	return results, nil
}

// normalizedPrice fetches the oracle reading, rejects stale data, and
// normalizes price and confidence to the protocol's decimal scale.
func (e *Engine) normalizedPrice(ctx context.Context) (price, confidence uint64, err error) {
	data, err := e.oracle.GetPrice(ctx, e.feedID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", protocol.ErrStalePriceData, err)
	}
	if e.clock.Now().Sub(data.PublishTime) > protocol.PriceMaxAge {
		return 0, 0, protocol.ErrStalePriceData
	}

	price, err = protocol.NormalizePrice(data.Price, data.Exponent, protocol.PriceDecimals)
	if err != nil {
		return 0, 0, err
	}

	if data.Confidence > 0 {
		if data.Confidence > math.MaxInt64 {
			return 0, 0, protocol.ErrMathOverflow
		}
		confidence, err = protocol.NormalizePrice(int64(data.Confidence), data.Exponent, protocol.PriceDecimals)
		if err != nil {
			return 0, 0, err
		}
	}
	return price, confidence, nil
}

// executeRebalance performs the state-machine transition for a classified
// range. Both tokens' bucket sums are conserved across every branch.
func (e *Engine) executeRebalance(ctx context.Context, pos *types.Position, inRange bool, price uint64, effects *sideEffects) (types.RebalanceAction, error) {
	if inRange {
		if pos.HasLending() {
			if err := e.withdrawFromLending(ctx, pos, effects); err != nil {
				return "", err
			}
			if err := e.openLPPosition(ctx, pos, price, effects); err != nil {
				return "", err
			}
			return types.ActionMoveToLP, nil
		}
		if pos.HasIdle() {
			if err := e.openLPPosition(ctx, pos, price, effects); err != nil {
				return "", err
			}
			return types.ActionMoveToLP, nil
		}
		return types.ActionNone, nil
	}

	if pos.HasLP() {
		if err := e.closeLPPosition(ctx, pos, effects); err != nil {
			return "", err
		}
		if err := e.depositToLending(ctx, pos, effects); err != nil {
			return "", err
		}
		return types.ActionMoveToLending, nil
	}
	if pos.HasIdle() {
		if err := e.depositToLending(ctx, pos, effects); err != nil {
			return "", err
		}
		return types.ActionMoveToLending, nil
	}
	return types.ActionNone, nil
}

// withdrawFromLending redeems the whole lending obligation back to idle.
func (e *Engine) withdrawFromLending(ctx context.Context, pos *types.Position, effects *sideEffects) error {
	if !pos.LendingObligation.Deployed {
		return protocol.ErrLendingPositionNotFound
	}

	amountA, amountB, err := e.lending.Withdraw(ctx, pos.LendingObligation.Handle)
	if err != nil {
		return fmt.Errorf("%w: lending withdraw: %v", protocol.ErrExternalProtocol, err)
	}

	pos.TokenAIdle, err = protocol.CheckedAdd(pos.TokenAIdle, amountA)
	if err != nil {
		return err
	}
	pos.TokenBIdle, err = protocol.CheckedAdd(pos.TokenBIdle, amountB)
	if err != nil {
		return err
	}
	pos.TokenAInLending = 0
	pos.TokenBInLending = 0
	pos.LendingObligation.Clear()

	// Reversal re-supplies the redeemed funds under a new handle.
	effects.record(func(ctx context.Context) error {
		handle, err := e.lending.Deposit(ctx, pos.Owner, pos.PositionID, amountA, amountB)
		if err != nil {
			return err
		}
		pos.TokenAIdle, err = protocol.CheckedSub(pos.TokenAIdle, amountA)
		if err != nil {
			return err
		}
		pos.TokenBIdle, err = protocol.CheckedSub(pos.TokenBIdle, amountB)
		if err != nil {
			return err
		}
		pos.TokenAInLending = amountA
		pos.TokenBInLending = amountB
		pos.LendingObligation = types.DeployedRef(handle)
		return nil
	})
	return nil
}

// depositToLending supplies all idle funds to the lending venue. An existing
// obligation is redeemed first so the position holds a single handle.
func (e *Engine) depositToLending(ctx context.Context, pos *types.Position, effects *sideEffects) error {
	if pos.LendingObligation.Deployed {
		if err := e.withdrawFromLending(ctx, pos, effects); err != nil {
			return err
		}
	}

	idleA, idleB := pos.TokenAIdle, pos.TokenBIdle
	handle, err := e.lending.Deposit(ctx, pos.Owner, pos.PositionID, idleA, idleB)
	if err != nil {
		return fmt.Errorf("%w: lending deposit: %v", protocol.ErrExternalProtocol, err)
	}

	pos.TokenAInLending, err = protocol.CheckedAdd(pos.TokenAInLending, idleA)
	if err != nil {
		return err
	}
	pos.TokenBInLending, err = protocol.CheckedAdd(pos.TokenBInLending, idleB)
	if err != nil {
		return err
	}
	pos.TokenAIdle = 0
	pos.TokenBIdle = 0
	pos.LendingObligation = types.DeployedRef(handle)

	effects.record(func(ctx context.Context) error {
		amountA, amountB, err := e.lending.Withdraw(ctx, handle)
		if err != nil {
			return err
		}
		pos.TokenAIdle, err = protocol.CheckedAdd(pos.TokenAIdle, amountA)
		if err != nil {
			return err
		}
		pos.TokenBIdle, err = protocol.CheckedAdd(pos.TokenBIdle, amountB)
		if err != nil {
			return err
		}
		pos.TokenAInLending = 0
		pos.TokenBInLending = 0
		pos.LendingObligation.Clear()
		return nil
	})
	return nil
}

// closeLPPosition unwinds the LP position back to idle.
func (e *Engine) closeLPPosition(ctx context.Context, pos *types.Position, effects *sideEffects) error {
	if !pos.LPPosition.Deployed {
		return protocol.ErrLPPositionNotFound
	}

	amountA, amountB, err := e.lp.ClosePosition(ctx, pos.LPPosition.Handle)
	if err != nil {
		return fmt.Errorf("%w: lp close: %v", protocol.ErrExternalProtocol, err)
	}

	pos.TokenAIdle, err = protocol.CheckedAdd(pos.TokenAIdle, amountA)
	if err != nil {
		return err
	}
	pos.TokenBIdle, err = protocol.CheckedAdd(pos.TokenBIdle, amountB)
	if err != nil {
		return err
	}
	pos.TokenAInLP = 0
	pos.TokenBInLP = 0
	pos.LPPosition.Clear()

	// Reversal re-opens the position at the configured range under a new
	// handle.
	effects.record(func(ctx context.Context) error {
		handle, err := e.lp.OpenPosition(ctx, pos.Owner, pos.PositionID, amountA, amountB, pos.LPRangeMin, pos.LPRangeMax)
		if err != nil {
			return err
		}
		pos.TokenAIdle, err = protocol.CheckedSub(pos.TokenAIdle, amountA)
		if err != nil {
			return err
		}
		pos.TokenBIdle, err = protocol.CheckedSub(pos.TokenBIdle, amountB)
		if err != nil {
			return err
		}
		pos.TokenAInLP = amountA
		pos.TokenBInLP = amountB
		pos.LPPosition = types.DeployedRef(handle)
		return nil
	})
	return nil
}

// openLPPosition deploys all idle funds into the LP venue at the position's
// configured range. An already-open LP position is folded in first so the
// position holds a single handle.
func (e *Engine) openLPPosition(ctx context.Context, pos *types.Position, price uint64, effects *sideEffects) error {
	if pos.LPPosition.Deployed {
		if err := e.closeLPPosition(ctx, pos, effects); err != nil {
			return err
		}
	}

	idleA, idleB := pos.TokenAIdle, pos.TokenBIdle

	// The quoter may suggest a swap toward a 50/50 value split before entry.
	// Swap routing is an external capability; the default quoter is a no-op.
	suggestion, err := e.swaps.Quote(price, idleA, idleB)
	if err != nil {
		return fmt.Errorf("%w: swap quote: %v", protocol.ErrExternalProtocol, err)
	}
	if suggestion.AmountIn > 0 {
		e.log.Debug().
			Bool("a_to_b", suggestion.SwapAToB).
			Uint64("amount_in", suggestion.AmountIn).
			Msg("Swap suggested before LP entry, routing not wired")
	}

	handle, err := e.lp.OpenPosition(ctx, pos.Owner, pos.PositionID, idleA, idleB, pos.LPRangeMin, pos.LPRangeMax)
	if err != nil {
		return fmt.Errorf("%w: lp open: %v", protocol.ErrExternalProtocol, err)
	}

	pos.TokenAInLP, err = protocol.CheckedAdd(pos.TokenAInLP, idleA)
	if err != nil {
		return err
	}
	pos.TokenBInLP, err = protocol.CheckedAdd(pos.TokenBInLP, idleB)
	if err != nil {
		return err
	}
	pos.TokenAIdle = 0
	pos.TokenBIdle = 0
	pos.LPPosition = types.DeployedRef(handle)

	effects.record(func(ctx context.Context) error {
		amountA, amountB, err := e.lp.ClosePosition(ctx, handle)
		if err != nil {
			return err
		}
		pos.TokenAIdle, err = protocol.CheckedAdd(pos.TokenAIdle, amountA)
		if err != nil {
			return err
		}
		pos.TokenBIdle, err = protocol.CheckedAdd(pos.TokenBIdle, amountB)
		if err != nil {
			return err
		}
		pos.TokenAInLP = 0
		pos.TokenBInLP = 0
		pos.LPPosition.Clear()
		return nil
	})
	return nil
}
