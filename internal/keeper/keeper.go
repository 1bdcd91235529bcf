/*

This file contains the keeper loop: a periodic sweep that submits batch
rebalances for every open position, chunked at the protocol's batch limit.
Individual position failures are tallied and retried naturally on the next
sweep.

*/

package keeper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridianfi/reallocator/internal/engine"
	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/logger"
	"github.com/meridianfi/reallocator/internal/protocol"
	"github.com/meridianfi/reallocator/internal/types"
)

// Keeper periodically rebalances all open positions.
type Keeper struct {
	log      zerolog.Logger
	engine   *engine.Engine
	address  types.Address
	interval time.Duration
}

func New(eng *engine.Engine, address types.Address, interval time.Duration) *Keeper {
	return &Keeper{
		log:      logger.GetForComponent("keeper"),
		engine:   eng,
		address:  address,
		interval: interval,
	}
}

// Run sweeps immediately, then on every interval tick until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	k.log.Info().Dur("interval", k.interval).Msg("Keeper loop starting")

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			k.log.Info().Msg("Keeper loop stopping")
			return
		case <-ticker.C:
			k.runOnce(ctx)
		}
	}
}

func (k *Keeper) runOnce(ctx context.Context) {
	runID := uuid.NewString()
	runLog := k.log.With().Str("run_id", runID).Logger()

	var refs []engine.PositionRef
	err := k.engine.Registry().View(func(tx ledger.Tx) error {
		for _, pos := range tx.Positions() {
			if pos.PauseFlag {
				continue
			}
			refs = append(refs, engine.PositionRef{Owner: pos.Owner, PositionID: pos.PositionID})
		}
		return nil
	})
	if err != nil {
		runLog.Error().Err(err).Msg("Failed to enumerate positions")
		return
	}
	if len(refs) == 0 {
		runLog.Debug().Msg("No open positions to rebalance")
		return
	}

	var moved, skipped, failed int
	for start := 0; start < len(refs); start += protocol.MaxBatchSize {
		end := start + protocol.MaxBatchSize
		if end > len(refs) {
			end = len(refs)
		}

		results, err := k.engine.RebalanceBatch(ctx, k.address, refs[start:end])
		if err != nil {
			runLog.Error().Err(err).Msg("Batch rebalance rejected")
			return
		}

		for _, result := range results {
			switch {
			case result.Err != nil && errors.Is(result.Err, protocol.ErrStalePriceData):
				// Expected while the oracle stream catches up.
				skipped++
			case result.Err != nil:
				failed++
				runLog.Warn().
					Err(result.Err).
					Str("owner", result.Ref.Owner.String()).
					Uint64("position_id", result.Ref.PositionID).
					Msg("Position rebalance failed")
			case result.Action == types.ActionNone:
				skipped++
			default:
				moved++
			}
		}
	}

	runLog.Info().
		Int("positions", len(refs)).
		Int("moved", moved).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("Keeper sweep finished")
}
