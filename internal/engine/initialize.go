/*

This file contains the setup and funding instructions: protocol and user
initialization, position creation with sequential id assignment, deposits
with protocol fees, and the pause/resume toggle.

*/

package engine

import (
	"context"
	"fmt"

	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/protocol"
	"github.com/meridianfi/reallocator/internal/types"
)

// InitializeProtocol creates the protocol singleton, or updates its fee
// configuration if it already exists. FeeBps is capped at MaxFeeBps.
func (e *Engine) InitializeProtocol(ctx context.Context, feeRecipient, keeper types.Address, feeBps uint16) error {
	if feeBps > protocol.MaxFeeBps {
		return protocol.ErrInvalidPercentage
	}

	err := e.registry.Update(func(tx ledger.Tx) error {
		authority, ok := tx.Protocol()
		if !ok {
			authority = types.ProtocolAuthority{}
		}
		authority.FeeRecipient = feeRecipient
		authority.Keeper = keeper
		authority.ProtocolFeeBps = feeBps
		tx.PutProtocol(authority)
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().Uint16("fee_bps", feeBps).Str("fee_recipient", feeRecipient.String()).Msg("Protocol initialized")
	return nil
}

// InitializeUser creates the per-user aggregate account if it does not exist
// yet. Calling it again for the same owner is a no-op.
func (e *Engine) InitializeUser(ctx context.Context, owner types.Address) error {
	err := e.registry.Update(func(tx ledger.Tx) error {
		if _, ok := tx.User(owner); ok {
			return nil
		}
		tx.PutUser(types.UserMainAccount{Owner: owner})
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().Str("owner", owner.String()).Msg("User main account initialized")
	return nil
}

// CreatePosition creates position positionID for owner with the given LP
// price range. Ids are assigned sequentially: the call fails unless
// positionID is exactly the user's total created count plus one.
func (e *Engine) CreatePosition(ctx context.Context, owner types.Address, positionID uint64, mintA, mintB types.Address, rangeMin, rangeMax uint64) error {
	if rangeMin >= rangeMax {
		return protocol.ErrInvalidPriceRange
	}

	err := e.registry.Update(func(tx ledger.Tx) error {
		authority, ok := tx.Protocol()
		if !ok {
			return fmt.Errorf("%w: protocol not initialized", protocol.ErrExternalProtocol)
		}
		user, ok := tx.User(owner)
		if !ok {
			return fmt.Errorf("%w: user account not initialized", protocol.ErrExternalProtocol)
		}
		if _, exists := tx.Position(owner, positionID); exists {
			return protocol.ErrPositionAlreadyExists
		}
		if positionID != user.TotalPositionsCreated+1 {
			return protocol.ErrInvalidPositionID
		}

		tx.PutPosition(types.Position{
			Owner:      owner,
			PositionID: positionID,
			TokenAMint: mintA,
			TokenBMint: mintB,
			LPRangeMin: rangeMin,
			LPRangeMax: rangeMax,
			CreatedAt:  e.clock.Now().Unix(),
		})

		user.PositionCount++
		user.TotalPositionsCreated++
		tx.PutUser(user)

		authority.TotalPositions++
		tx.PutProtocol(authority)
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().
		Str("owner", owner.String()).
		Uint64("position_id", positionID).
		Uint64("range_min", rangeMin).
		Uint64("range_max", rangeMax).
		Msg("Position created")
	return nil
}

// Deposit moves amountA/amountB from the owner into the position's idle
// vault, net of the protocol fee which goes to the fee recipient. A zero
// amount for either token is a no-op for that token; the minimum position
// value applies only when both amounts are nonzero.
func (e *Engine) Deposit(ctx context.Context, owner types.Address, positionID uint64, amountA, amountB uint64) (types.DepositEvent, error) {
	var event types.DepositEvent
	var instrErr error

	err := e.registry.Update(func(tx ledger.Tx) error {
		authority, ok := tx.Protocol()
		if !ok {
			return fmt.Errorf("%w: protocol not initialized", protocol.ErrExternalProtocol)
		}
		pos, ok := tx.Position(owner, positionID)
		if !ok {
			return protocol.ErrInvalidPositionID
		}

		gross, err := protocol.CheckedAdd(amountA, amountB)
		if err != nil {
			return err
		}
		if amountA > 0 && amountB > 0 && gross < protocol.MinPositionValue {
			return fmt.Errorf("%w: dual-token deposit below minimum position value", protocol.ErrInsufficientBalance)
		}

		effects := &sideEffects{}
		ev, derr := e.creditDeposit(&pos, authority, amountA, amountB, effects)
		if derr != nil {
			if effects.empty() {
				return derr
			}
			// The first token's transfers already settled. Reverse them so
			// the owner's balances match the discarded ledger state.
			effects.revert(ctx, e.log)
			tx.PutPosition(pos)
			instrErr = derr
			return nil
		}
		tx.PutPosition(pos)
		event = ev
		return nil
	})
	if err != nil {
		return types.DepositEvent{}, err
	}
	if instrErr != nil {
		return types.DepositEvent{}, instrErr
	}

	e.events.Publish(event)
	e.log.Info().
		Uint64("position_id", positionID).
		Uint64("net_a", event.AmountA).
		Uint64("net_b", event.AmountB).
		Uint64("fee_a", event.FeeA).
		Uint64("fee_b", event.FeeB).
		Msg("Deposit completed")
	return event, nil
}

// creditDeposit runs the fee math and the per-token transfers into the
// position's vaults. Each settled transfer and bucket credit records its
// reversal in effects so a failure on the second token can undo the first.
func (e *Engine) creditDeposit(pos *types.Position, authority types.ProtocolAuthority, amountA, amountB uint64, effects *sideEffects) (types.DepositEvent, error) {
	feeA, err := protocol.ComputeFee(amountA, authority.ProtocolFeeBps)
	if err != nil {
		return types.DepositEvent{}, err
	}
	feeB, err := protocol.ComputeFee(amountB, authority.ProtocolFeeBps)
	if err != nil {
		return types.DepositEvent{}, err
	}
	netA, err := protocol.NetAfterFee(amountA, feeA)
	if err != nil {
		return types.DepositEvent{}, err
	}
	netB, err := protocol.NetAfterFee(amountB, feeB)
	if err != nil {
		return types.DepositEvent{}, err
	}

	owner := pos.Owner
	if amountA > 0 {
		vault := pos.VaultAddress(pos.TokenAMint)
		if err := e.bank.Transfer(pos.TokenAMint, owner, vault, netA); err != nil {
			return types.DepositEvent{}, err
		}
		effects.record(func(context.Context) error {
			return e.bank.Transfer(pos.TokenAMint, vault, owner, netA)
		})
		if feeA > 0 {
			if err := e.bank.Transfer(pos.TokenAMint, owner, authority.FeeRecipient, feeA); err != nil {
				return types.DepositEvent{}, err
			}
			effects.record(func(context.Context) error {
				return e.bank.Transfer(pos.TokenAMint, authority.FeeRecipient, owner, feeA)
			})
		}
		pos.TokenAIdle, err = protocol.CheckedAdd(pos.TokenAIdle, netA)
		if err != nil {
			return types.DepositEvent{}, err
		}
		effects.record(func(context.Context) error {
			var serr error
			pos.TokenAIdle, serr = protocol.CheckedSub(pos.TokenAIdle, netA)
			return serr
		})
	}
	if amountB > 0 {
		vault := pos.VaultAddress(pos.TokenBMint)
		if err := e.bank.Transfer(pos.TokenBMint, owner, vault, netB); err != nil {
			return types.DepositEvent{}, err
		}
		effects.record(func(context.Context) error {
			return e.bank.Transfer(pos.TokenBMint, vault, owner, netB)
		})
		if feeB > 0 {
			if err := e.bank.Transfer(pos.TokenBMint, owner, authority.FeeRecipient, feeB); err != nil {
				return types.DepositEvent{}, err
			}
			effects.record(func(context.Context) error {
				return e.bank.Transfer(pos.TokenBMint, authority.FeeRecipient, owner, feeB)
			})
		}
		pos.TokenBIdle, err = protocol.CheckedAdd(pos.TokenBIdle, netB)
		if err != nil {
			return types.DepositEvent{}, err
		}
		effects.record(func(context.Context) error {
			var serr error
			pos.TokenBIdle, serr = protocol.CheckedSub(pos.TokenBIdle, netB)
			return serr
		})
	}

	return types.DepositEvent{
		PositionID: pos.PositionID,
		Owner:      owner,
		AmountA:    netA,
		AmountB:    netB,
		FeeA:       feeA,
		FeeB:       feeB,
	}, nil
}

// Pause blocks rebalancing for the position. Deposits and withdrawals remain
// allowed.
func (e *Engine) Pause(ctx context.Context, owner types.Address, positionID uint64) error {
	return e.setPaused(owner, positionID, true)
}

// Resume re-enables rebalancing for the position.
func (e *Engine) Resume(ctx context.Context, owner types.Address, positionID uint64) error {
	return e.setPaused(owner, positionID, false)
}

func (e *Engine) setPaused(owner types.Address, positionID uint64, paused bool) error {
	err := e.registry.Update(func(tx ledger.Tx) error {
		pos, ok := tx.Position(owner, positionID)
		if !ok {
			return protocol.ErrInvalidPositionID
		}
		pos.PauseFlag = paused
		tx.PutPosition(pos)
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().Uint64("position_id", positionID).Bool("paused", paused).Msg("Position pause flag updated")
	return nil
}
