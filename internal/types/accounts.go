/*

This file contains the ledger account records tracked by the reallocator:
the protocol singleton, the per-user aggregate, and the position itself with
its fund distribution across the idle vault, the LP venue, and the lending
venue.

*/

package types

import "encoding/binary"

// ProtocolAuthority is the deployment-wide singleton holding fee
// configuration, the registered keeper, and aggregate position counts.
type ProtocolAuthority struct {
	FeeRecipient   Address `json:"fee_recipient"`
	Keeper         Address `json:"keeper"`
	ProtocolFeeBps uint16  `json:"protocol_fee_bps"`
	TotalPositions uint64  `json:"total_positions"`
}

// UserMainAccount aggregates a single user's positions. TotalPositionsCreated
// only ever increases and assigns the next position id.
type UserMainAccount struct {
	Owner                 Address `json:"owner"`
	PositionCount         uint64  `json:"position_count"`
	TotalPositionsCreated uint64  `json:"total_positions_created"`
}

// VenueRef tracks whether a position currently has funds deployed at an
// external venue, and under which handle. The zero value means not deployed.
type VenueRef struct {
	Deployed bool   `json:"deployed"`
	Handle   string `json:"handle,omitempty"`
}

// DeployedRef returns a reference to an open external position.
func DeployedRef(handle string) VenueRef {
	return VenueRef{Deployed: true, Handle: handle}
}

// Clear resets the reference to the not-deployed state.
func (r *VenueRef) Clear() {
	*r = VenueRef{}
}

// Position is the central entity: a user's allocation of two tokens across
// the idle vault, the LP venue, and the lending venue, governed by a target
// price range.
type Position struct {
	Owner      Address `json:"owner"`
	PositionID uint64  `json:"position_id"`
	TokenAMint Address `json:"token_a_mint"`
	TokenBMint Address `json:"token_b_mint"`

	// Fund distribution. TokenAIdle + TokenAInLP + TokenAInLending is the
	// position's total holding of token A; same for B. Rebalancing moves
	// amounts between buckets and never changes the totals.
	TokenAIdle      uint64 `json:"token_a_idle"`
	TokenBIdle      uint64 `json:"token_b_idle"`
	TokenAInLP      uint64 `json:"token_a_in_lp"`
	TokenBInLP      uint64 `json:"token_b_in_lp"`
	TokenAInLending uint64 `json:"token_a_in_lending"`
	TokenBInLending uint64 `json:"token_b_in_lending"`

	LPRangeMin uint64 `json:"lp_range_min"`
	LPRangeMax uint64 `json:"lp_range_max"`

	PauseFlag bool  `json:"pause_flag"`
	CreatedAt int64 `json:"created_at"`

	LastRebalancePrice uint64 `json:"last_rebalance_price"`
	LastRebalanceSlot  uint64 `json:"last_rebalance_slot"`
	TotalRebalances    uint64 `json:"total_rebalances"`

	LPPosition        VenueRef `json:"lp_position"`
	LendingObligation VenueRef `json:"lending_obligation"`
}

// HasLP reports whether any funds sit at the LP venue.
func (p *Position) HasLP() bool {
	return p.TokenAInLP > 0 || p.TokenBInLP > 0
}

// HasLending reports whether any funds sit at the lending venue.
func (p *Position) HasLending() bool {
	return p.TokenAInLending > 0 || p.TokenBInLending > 0
}

// HasIdle reports whether any funds sit undeployed in the idle vault.
func (p *Position) HasIdle() bool {
	return p.TokenAIdle > 0 || p.TokenBIdle > 0
}

// IsEmpty reports whether all six fund-location balances are zero.
func (p *Position) IsEmpty() bool {
	return !p.HasIdle() && !p.HasLP() && !p.HasLending()
}

// VaultAddress derives the position's token vault address for a mint.
func (p *Position) VaultAddress(mint Address) Address {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], p.PositionID)
	return DeriveAddress([]byte("position"), p.Owner[:], id[:], mint[:])
}
