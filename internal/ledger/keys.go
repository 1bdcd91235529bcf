package ledger

import (
	"fmt"

	"github.com/meridianfi/reallocator/internal/types"
)

// Record keys, derived the same way for every lookup so "create-if-absent"
// is always an explicit check against a concrete key.

const protocolKey = "protocol"

func userKey(owner types.Address) string {
	return "user/" + owner.String()
}

func positionKey(owner types.Address, positionID uint64) string {
	return fmt.Sprintf("position/%s/%d", owner.String(), positionID)
}
