/*

This file contains the exit instructions. A withdrawal first recalls every
deployed balance back to the idle vault (closing the LP position and
redeeming the lending obligation), then pays the owner pro rata out of idle.
Recalling first keeps the ledger and the actual token movement in agreement;
whatever the owner leaves behind stays idle until the next rebalance
redeploys it.

*/

package engine

import (
	"context"
	"fmt"

	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/protocol"
	"github.com/meridianfi/reallocator/internal/types"
)

// Withdraw pays out percentage of the position's total holdings, net of the
// protocol fee. Percentage must be in (0, 100]; at 100 every bucket ends at
// zero.
func (e *Engine) Withdraw(ctx context.Context, owner types.Address, positionID uint64, percentage uint8) (types.WithdrawEvent, error) {
	var event types.WithdrawEvent
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
		if percentage == 0 || percentage > 100 {
			return protocol.ErrInvalidPercentage
		}

		effects := &sideEffects{}
		ev, werr := e.settleWithdrawal(ctx, &pos, authority, percentage, effects)
		if werr != nil {
			if effects.empty() {
				return werr
			}
			// The venue recall or part of the payout already happened.
			// Undo those calls and persist the restored position, which
			// may carry fresh handles for the re-created deployments.
			effects.revert(ctx, e.log)
			tx.PutPosition(pos)
			instrErr = werr
			return nil
		}
		tx.PutPosition(pos)
		event = ev
		return nil
	})
	if err != nil {
		return types.WithdrawEvent{}, err
	}
	if instrErr != nil {
		return types.WithdrawEvent{}, instrErr
	}

	e.events.Publish(event)
	e.log.Info().
		Uint64("position_id", positionID).
		Uint8("percentage", percentage).
		Uint64("net_a", event.AmountA).
		Uint64("net_b", event.AmountB).
		Msg("Withdrawal completed")
	return event, nil
}

// settleWithdrawal recalls deployed funds to idle, pays the owner and the fee
// recipient, and debits the position's idle buckets. Every venue and bank
// call records its reversal in effects before the next step runs.
func (e *Engine) settleWithdrawal(ctx context.Context, pos *types.Position, authority types.ProtocolAuthority, percentage uint8, effects *sideEffects) (types.WithdrawEvent, error) {
	// Recall deployed funds so the payout comes out of real idle balance,
	// not a ledger-only adjustment.
	if pos.HasLP() {
		if err := e.closeLPPosition(ctx, pos, effects); err != nil {
			return types.WithdrawEvent{}, err
		}
	}
	if pos.HasLending() {
		if err := e.withdrawFromLending(ctx, pos, effects); err != nil {
			return types.WithdrawEvent{}, err
		}
	}

	breakdown, err := protocol.PlanWithdrawal(pos.TokenAIdle, pos.TokenBIdle, percentage, authority.ProtocolFeeBps)
	if err != nil {
		return types.WithdrawEvent{}, err
	}

	owner := pos.Owner
	vaultA := pos.VaultAddress(pos.TokenAMint)
	vaultB := pos.VaultAddress(pos.TokenBMint)
	if breakdown.NetA > 0 {
		if err := e.bank.Transfer(pos.TokenAMint, vaultA, owner, breakdown.NetA); err != nil {
			return types.WithdrawEvent{}, err
		}
		effects.record(func(context.Context) error {
			return e.bank.Transfer(pos.TokenAMint, owner, vaultA, breakdown.NetA)
		})
	}
	if breakdown.FeeA > 0 {
		if err := e.bank.Transfer(pos.TokenAMint, vaultA, authority.FeeRecipient, breakdown.FeeA); err != nil {
			return types.WithdrawEvent{}, err
		}
		effects.record(func(context.Context) error {
			return e.bank.Transfer(pos.TokenAMint, authority.FeeRecipient, vaultA, breakdown.FeeA)
		})
	}
	if breakdown.NetB > 0 {
		if err := e.bank.Transfer(pos.TokenBMint, vaultB, owner, breakdown.NetB); err != nil {
			return types.WithdrawEvent{}, err
		}
		effects.record(func(context.Context) error {
			return e.bank.Transfer(pos.TokenBMint, owner, vaultB, breakdown.NetB)
		})
	}
	if breakdown.FeeB > 0 {
		if err := e.bank.Transfer(pos.TokenBMint, vaultB, authority.FeeRecipient, breakdown.FeeB); err != nil {
			return types.WithdrawEvent{}, err
		}
		effects.record(func(context.Context) error {
			return e.bank.Transfer(pos.TokenBMint, authority.FeeRecipient, vaultB, breakdown.FeeB)
		})
	}

	pos.TokenAIdle, err = protocol.CheckedSub(pos.TokenAIdle, breakdown.WithdrawA)
	if err != nil {
		return types.WithdrawEvent{}, err
	}
	pos.TokenBIdle, err = protocol.CheckedSub(pos.TokenBIdle, breakdown.WithdrawB)
	if err != nil {
		return types.WithdrawEvent{}, err
	}

	return types.WithdrawEvent{
		PositionID: pos.PositionID,
		Owner:      owner,
		AmountA:    breakdown.NetA,
		AmountB:    breakdown.NetB,
		FeeA:       breakdown.FeeA,
		FeeB:       breakdown.FeeB,
		Percentage: percentage,
	}, nil
}

// ClosePosition releases an empty position's storage and returns its vault
// accounts to the owner. Fails unless all six fund-location balances are
// zero.
func (e *Engine) ClosePosition(ctx context.Context, owner types.Address, positionID uint64) error {
	err := e.registry.Update(func(tx ledger.Tx) error {
		pos, ok := tx.Position(owner, positionID)
		if !ok {
			return protocol.ErrInvalidPositionID
		}
		if !pos.IsEmpty() {
			return protocol.ErrPositionNotEmpty
		}

		if err := e.bank.CloseAccount(pos.TokenAMint, pos.VaultAddress(pos.TokenAMint), owner); err != nil {
			return err
		}
		if err := e.bank.CloseAccount(pos.TokenBMint, pos.VaultAddress(pos.TokenBMint), owner); err != nil {
			return err
		}

		if user, ok := tx.User(owner); ok {
			if user.PositionCount > 0 {
				user.PositionCount--
			}
			tx.PutUser(user)
		}
		if authority, ok := tx.Protocol(); ok {
			if authority.TotalPositions > 0 {
				authority.TotalPositions--
			}
			tx.PutProtocol(authority)
		}

		tx.DeletePosition(owner, positionID)
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().Str("owner", owner.String()).Uint64("position_id", positionID).Msg("Position closed")
	return nil
}
