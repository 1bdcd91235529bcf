package types

// RebalanceAction classifies the outcome of a single rebalance attempt.
type RebalanceAction string

const (
	ActionNone          RebalanceAction = "NO_ACTION"
	ActionMoveToLP      RebalanceAction = "MOVE_TO_LP"
	ActionMoveToLending RebalanceAction = "MOVE_TO_LENDING"
)

// Event is implemented by every record emitted for off-chain observers.
type Event interface {
	EventKind() string
}

// DepositEvent records a completed deposit with its gross/fee/net breakdown.
// AmountA/AmountB are the net amounts credited to the idle vault.
type DepositEvent struct {
	PositionID uint64  `json:"position_id"`
	Owner      Address `json:"owner"`
	AmountA    uint64  `json:"amount_a"`
	AmountB    uint64  `json:"amount_b"`
	FeeA       uint64  `json:"fee_a"`
	FeeB       uint64  `json:"fee_b"`
}

func (DepositEvent) EventKind() string { return "deposit" }

// WithdrawEvent records a completed withdrawal. Amounts are net of fees.
type WithdrawEvent struct {
	PositionID uint64  `json:"position_id"`
	Owner      Address `json:"owner"`
	AmountA    uint64  `json:"amount_a"`
	AmountB    uint64  `json:"amount_b"`
	FeeA       uint64  `json:"fee_a"`
	FeeB       uint64  `json:"fee_b"`
	Percentage uint8   `json:"percentage"`
}

func (WithdrawEvent) EventKind() string { return "withdraw" }

// PositionStatusEvent reports where a position's funds sit relative to the
// current oracle price.
type PositionStatusEvent struct {
	PositionID   uint64  `json:"position_id"`
	Owner        Address `json:"owner"`
	CurrentPrice uint64  `json:"current_price"`
	InRange      bool    `json:"in_range"`
	HasLP        bool    `json:"has_lp"`
	HasLending   bool    `json:"has_lending"`
}

func (PositionStatusEvent) EventKind() string { return "position_status" }

// RebalanceEvent records every rebalance attempt, including ones that took
// no action.
type RebalanceEvent struct {
	PositionID   uint64          `json:"position_id"`
	Owner        Address         `json:"owner"`
	CurrentPrice uint64          `json:"current_price"`
	InRange      bool            `json:"in_range"`
	Action       RebalanceAction `json:"action"`
}

func (RebalanceEvent) EventKind() string { return "rebalance" }
