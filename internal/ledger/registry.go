/*

This file defines the account registry: an explicitly addressed store mapping
derived keys to the protocol singleton, user aggregates, and positions. Every
instruction runs inside Update, which gives it the all-or-nothing semantics
the host runtime provides on chain: staged writes are applied only if the
instruction function returns nil.

*/

package ledger

import (
	"github.com/meridianfi/reallocator/internal/types"
)

// Tx is the view an instruction gets of the registry. Reads return copies;
// mutations become visible to other callers only on commit.
type Tx interface {
	Protocol() (types.ProtocolAuthority, bool)
	PutProtocol(types.ProtocolAuthority)

	User(owner types.Address) (types.UserMainAccount, bool)
	PutUser(types.UserMainAccount)

	Position(owner types.Address, positionID uint64) (types.Position, bool)
	PutPosition(types.Position)
	DeletePosition(owner types.Address, positionID uint64)

	// Positions returns a snapshot of every stored position, ordered by
	// owner then id. Used by the keeper to enumerate rebalance candidates.
	Positions() []types.Position
}

// Registry serializes instruction execution against the account store.
type Registry interface {
	// Update runs fn in a transaction. If fn returns an error, every staged
	// write is discarded and the error is returned unchanged.
	Update(fn func(Tx) error) error

	// View runs fn read-only against a consistent snapshot.
	View(fn func(Tx) error) error
}
