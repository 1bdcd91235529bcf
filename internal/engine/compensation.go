/*

This file contains the compensation log for instruction rollback. The
registry discards staged writes on failure by itself; venue and bank calls
cannot be taken back that way, so every forward step that touches an
external collaborator records the action that reverses it. When a later step
fails, the recorded actions run newest first, restoring both the
collaborator and the position fields the forward step changed.

*/

package engine

import (
	"context"

	"github.com/rs/zerolog"
)

type sideEffects struct {
	comps []func(ctx context.Context) error
}

func (s *sideEffects) record(fn func(ctx context.Context) error) {
	s.comps = append(s.comps, fn)
}

func (s *sideEffects) empty() bool {
	return len(s.comps) == 0
}

// revert runs the recorded compensations newest first. A compensation that
// fails is logged and skipped; the position then keeps the fields describing
// what actually happened at the collaborator, so the ledger stays truthful
// even when the reversal cannot complete.
func (s *sideEffects) revert(ctx context.Context, log zerolog.Logger) {
	for i := len(s.comps) - 1; i >= 0; i-- {
		if err := s.comps[i](ctx); err != nil {
			log.Error().Err(err).Msg("Compensating action failed, keeping the applied state")
		}
	}
}
