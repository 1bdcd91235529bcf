package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianfi/reallocator/internal/bank"
	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/oracle"
	"github.com/meridianfi/reallocator/internal/protocol"
	"github.com/meridianfi/reallocator/internal/types"
	"github.com/meridianfi/reallocator/internal/venue"
)

const testFeedID = "TOKENA/TOKENB"

// manualClock lets tests control slot progression and price staleness.
type manualClock struct {
	now  time.Time
	slot uint64
}

func (c *manualClock) Now() time.Time { return c.now }
func (c *manualClock) Slot() uint64   { return c.slot }

type testRig struct {
	engine  *Engine
	reg     *ledger.MemoryRegistry
	bank    *bank.MemoryBank
	lp      *venue.SimLiquidityVenue
	lending *venue.SimLendingVenue
	feed    *oracle.ManualFeed
	sink    *MemorySink
	clock   *manualClock

	owner        types.Address
	keeper       types.Address
	feeRecipient types.Address
	mintA        types.Address
	mintB        types.Address
}

func newTestRig(t *testing.T, feeBps uint16) *testRig {
	t.Helper()

	rig := &testRig{
		reg:          ledger.NewMemoryRegistry(),
		bank:         bank.NewMemoryBank(),
		lp:           venue.NewSimLiquidityVenue(),
		lending:      venue.NewSimLendingVenue(),
		feed:         oracle.NewManualFeed(),
		sink:         NewMemorySink(),
		clock:        &manualClock{now: time.Unix(1_700_000_000, 0), slot: 1000},
		owner:        types.DeriveAddress([]byte("test"), []byte("owner")),
		keeper:       types.DeriveAddress([]byte("test"), []byte("keeper")),
		feeRecipient: types.DeriveAddress([]byte("test"), []byte("fees")),
		mintA:        types.DeriveAddress([]byte("test"), []byte("mint-a")),
		mintB:        types.DeriveAddress([]byte("test"), []byte("mint-b")),
	}

	eng, err := New(Config{
		Registry:     rig.reg,
		Bank:         rig.bank,
		LPVenue:      rig.lp,
		LendingVenue: rig.lending,
		Oracle:       rig.feed,
		FeedID:       testFeedID,
		Clock:        rig.clock,
		Events:       rig.sink,
	})
	require.NoError(t, err)
	rig.engine = eng

	ctx := context.Background()
	require.NoError(t, eng.InitializeProtocol(ctx, rig.feeRecipient, rig.keeper, feeBps))
	require.NoError(t, eng.InitializeUser(ctx, rig.owner))
	return rig
}

// setPrice publishes a fresh reading at the protocol's own decimal scale.
func (rig *testRig) setPrice(price int64, confidence uint64) {
	rig.feed.Set(testFeedID, oracle.PriceData{
		Price:       price,
		Confidence:  confidence,
		Exponent:    -6,
		PublishTime: rig.clock.now,
	})
}

// newFundedPosition creates position 1 with range [100, 200] and deposits
// into it.
func (rig *testRig) newFundedPosition(t *testing.T, amountA, amountB uint64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100_000000, 200_000000))
	rig.bank.Mint(rig.mintA, rig.owner, amountA)
	rig.bank.Mint(rig.mintB, rig.owner, amountB)
	_, err := rig.engine.Deposit(ctx, rig.owner, 1, amountA, amountB)
	require.NoError(t, err)
}

func (rig *testRig) position(t *testing.T, positionID uint64) types.Position {
	t.Helper()
	var pos types.Position
	require.NoError(t, rig.reg.View(func(tx ledger.Tx) error {
		p, ok := tx.Position(rig.owner, positionID)
		require.True(t, ok, "position %d not found", positionID)
		pos = p
		return nil
	}))
	return pos
}

// totals returns the per-token sum over the position's three buckets.
func totals(pos types.Position) (uint64, uint64) {
	return pos.TokenAIdle + pos.TokenAInLP + pos.TokenAInLending,
		pos.TokenBIdle + pos.TokenBInLP + pos.TokenBInLending
}

func TestInitializeProtocol_RejectsExcessiveFee(t *testing.T) {
	rig := newTestRig(t, 0)

	err := rig.engine.InitializeProtocol(context.Background(), rig.feeRecipient, rig.keeper, protocol.MaxFeeBps+1)
	assert.ErrorIs(t, err, protocol.ErrInvalidPercentage)
}

func TestInitializeUser_Idempotent(t *testing.T) {
	rig := newTestRig(t, 0)
	ctx := context.Background()

	require.NoError(t, rig.engine.InitializeUser(ctx, rig.owner))
	require.NoError(t, rig.engine.InitializeUser(ctx, rig.owner))
}

func TestCreatePosition_SequentialIDs(t *testing.T) {
	rig := newTestRig(t, 0)
	ctx := context.Background()

	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100, 200))
	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 2, rig.mintA, rig.mintB, 100, 200))
	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 3, rig.mintA, rig.mintB, 100, 200))

	err := rig.engine.CreatePosition(ctx, rig.owner, 5, rig.mintA, rig.mintB, 100, 200)
	assert.ErrorIs(t, err, protocol.ErrInvalidPositionID)

	err = rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100, 200)
	assert.ErrorIs(t, err, protocol.ErrPositionAlreadyExists)
}

func TestCreatePosition_CountersAdvance(t *testing.T) {
	rig := newTestRig(t, 0)
	ctx := context.Background()

	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100, 200))
	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 2, rig.mintA, rig.mintB, 100, 200))

	require.NoError(t, rig.reg.View(func(tx ledger.Tx) error {
		user, ok := tx.User(rig.owner)
		require.True(t, ok)
		assert.Equal(t, uint64(2), user.PositionCount)
		assert.Equal(t, uint64(2), user.TotalPositionsCreated)

		authority, ok := tx.Protocol()
		require.True(t, ok)
		assert.Equal(t, uint64(2), authority.TotalPositions)
		return nil
	}))
}

func TestCreatePosition_InvalidRange(t *testing.T) {
	rig := newTestRig(t, 0)
	ctx := context.Background()

	err := rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 200, 100)
	assert.ErrorIs(t, err, protocol.ErrInvalidPriceRange)

	err = rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 150, 150)
	assert.ErrorIs(t, err, protocol.ErrInvalidPriceRange)
}

func TestCreatePosition_RequiresInitializedUser(t *testing.T) {
	rig := newTestRig(t, 0)
	stranger := types.DeriveAddress([]byte("test"), []byte("stranger"))

	err := rig.engine.CreatePosition(context.Background(), stranger, 1, rig.mintA, rig.mintB, 100, 200)
	assert.ErrorIs(t, err, protocol.ErrExternalProtocol)
}

func TestDeposit_FeeSplit(t *testing.T) {
	rig := newTestRig(t, 50)
	rig.newFundedPosition(t, 1_000_000, 0)

	pos := rig.position(t, 1)
	assert.Equal(t, uint64(995_000), pos.TokenAIdle)
	assert.Equal(t, uint64(995_000), rig.bank.Balance(rig.mintA, pos.VaultAddress(rig.mintA)))
	assert.Equal(t, uint64(5_000), rig.bank.Balance(rig.mintA, rig.feeRecipient))
	assert.Equal(t, uint64(0), rig.bank.Balance(rig.mintA, rig.owner))

	require.Len(t, rig.sink.Events(), 1)
	event, ok := rig.sink.Events()[0].(types.DepositEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(995_000), event.AmountA)
	assert.Equal(t, uint64(5_000), event.FeeA)
}

func TestDeposit_MinimumAppliesOnlyToDualTokenDeposits(t *testing.T) {
	rig := newTestRig(t, 0)
	ctx := context.Background()

	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100, 200))
	rig.bank.Mint(rig.mintA, rig.owner, 1_100_000)
	rig.bank.Mint(rig.mintB, rig.owner, 400_000)

	// Both tokens nonzero and the gross under the minimum is rejected.
	_, err := rig.engine.Deposit(ctx, rig.owner, 1, 600_000, 300_000)
	assert.ErrorIs(t, err, protocol.ErrInsufficientBalance)

	// A single-token top-up of any size is fine.
	_, err = rig.engine.Deposit(ctx, rig.owner, 1, 500_000, 0)
	require.NoError(t, err)

	// A dual-token deposit at the exact minimum passes.
	_, err = rig.engine.Deposit(ctx, rig.owner, 1, 600_000, 400_000)
	require.NoError(t, err)

	pos := rig.position(t, 1)
	assert.Equal(t, uint64(1_100_000), pos.TokenAIdle)
	assert.Equal(t, uint64(400_000), pos.TokenBIdle)
}

func TestDeposit_UnknownPosition(t *testing.T) {
	rig := newTestRig(t, 0)

	_, err := rig.engine.Deposit(context.Background(), rig.owner, 42, 1_000_000, 0)
	assert.ErrorIs(t, err, protocol.ErrInvalidPositionID)
}

func TestDeposit_InsufficientOwnerBalanceRollsBack(t *testing.T) {
	rig := newTestRig(t, 0)
	ctx := context.Background()

	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100, 200))

	// Owner holds nothing; the transfer fails and the ledger stays clean.
	_, err := rig.engine.Deposit(ctx, rig.owner, 1, 2_000_000, 0)
	require.Error(t, err)

	pos := rig.position(t, 1)
	assert.Equal(t, uint64(0), pos.TokenAIdle)
	assert.Empty(t, rig.sink.Events())
}

func TestDeposit_SecondTokenFailureReversesFirst(t *testing.T) {
	rig := newTestRig(t, 50)
	ctx := context.Background()

	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100, 200))
	// The owner can cover token A but not token B, so the A-side transfers
	// settle before the B-side transfer fails.
	rig.bank.Mint(rig.mintA, rig.owner, 2_000_000)

	_, err := rig.engine.Deposit(ctx, rig.owner, 1, 2_000_000, 1_000_000)
	require.Error(t, err)

	pos := rig.position(t, 1)
	assert.Equal(t, uint64(0), pos.TokenAIdle)
	assert.Equal(t, uint64(0), pos.TokenBIdle)
	assert.Equal(t, uint64(2_000_000), rig.bank.Balance(rig.mintA, rig.owner), "the settled token A transfers must be reversed")
	assert.Equal(t, uint64(0), rig.bank.Balance(rig.mintA, pos.VaultAddress(rig.mintA)))
	assert.Equal(t, uint64(0), rig.bank.Balance(rig.mintA, rig.feeRecipient))
	assert.Empty(t, rig.sink.Events())
}

func TestWithdraw_Full(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 500_000)

	event, err := rig.engine.Withdraw(context.Background(), rig.owner, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), event.AmountA)
	assert.Equal(t, uint64(500_000), event.AmountB)

	pos := rig.position(t, 1)
	assert.True(t, pos.IsEmpty(), "all fund locations must be zero after a full withdrawal")
	assert.Equal(t, uint64(1_000_000), rig.bank.Balance(rig.mintA, rig.owner))
	assert.Equal(t, uint64(500_000), rig.bank.Balance(rig.mintB, rig.owner))
}

func TestWithdraw_PartialLeavesRemainderIdle(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 0)

	event, err := rig.engine.Withdraw(context.Background(), rig.owner, 1, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000), event.AmountA)

	pos := rig.position(t, 1)
	assert.Equal(t, uint64(750_000), pos.TokenAIdle)
	assert.Equal(t, uint64(250_000), rig.bank.Balance(rig.mintA, rig.owner))
}

func TestWithdraw_InvalidPercentage(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 0)

	_, err := rig.engine.Withdraw(context.Background(), rig.owner, 1, 0)
	assert.ErrorIs(t, err, protocol.ErrInvalidPercentage)

	_, err = rig.engine.Withdraw(context.Background(), rig.owner, 1, 101)
	assert.ErrorIs(t, err, protocol.ErrInvalidPercentage)
}

func TestWithdraw_RecallsDeployedFunds(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 500_000)

	// Move everything into the LP first.
	rig.setPrice(150_000000, 0)
	action, err := rig.engine.RebalancePosition(context.Background(), rig.owner, 1)
	require.NoError(t, err)
	require.Equal(t, types.ActionMoveToLP, action)
	deployed := rig.position(t, 1)
	require.True(t, deployed.HasLP())

	event, err := rig.engine.Withdraw(context.Background(), rig.owner, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), event.AmountA)
	assert.Equal(t, uint64(500_000), event.AmountB)

	pos := rig.position(t, 1)
	assert.True(t, pos.IsEmpty())
	assert.False(t, pos.LPPosition.Deployed)
}

func TestClosePosition_NonEmptyFails(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 0)

	err := rig.engine.ClosePosition(context.Background(), rig.owner, 1)
	assert.ErrorIs(t, err, protocol.ErrPositionNotEmpty)
}

func TestClosePosition_Success(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 0)
	ctx := context.Background()

	_, err := rig.engine.Withdraw(ctx, rig.owner, 1, 100)
	require.NoError(t, err)
	require.NoError(t, rig.engine.ClosePosition(ctx, rig.owner, 1))

	require.NoError(t, rig.reg.View(func(tx ledger.Tx) error {
		_, ok := tx.Position(rig.owner, 1)
		assert.False(t, ok)

		user, ok := tx.User(rig.owner)
		require.True(t, ok)
		assert.Equal(t, uint64(0), user.PositionCount)
		assert.Equal(t, uint64(1), user.TotalPositionsCreated, "the created total never decreases")

		authority, ok := tx.Protocol()
		require.True(t, ok)
		assert.Equal(t, uint64(0), authority.TotalPositions)
		return nil
	}))
}

func TestClosePosition_IDNotReused(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 0)
	ctx := context.Background()

	_, err := rig.engine.Withdraw(ctx, rig.owner, 1, 100)
	require.NoError(t, err)
	require.NoError(t, rig.engine.ClosePosition(ctx, rig.owner, 1))

	// The next position continues the sequence; the freed id stays dead.
	err = rig.engine.CreatePosition(ctx, rig.owner, 1, rig.mintA, rig.mintB, 100, 200)
	assert.ErrorIs(t, err, protocol.ErrInvalidPositionID)
	require.NoError(t, rig.engine.CreatePosition(ctx, rig.owner, 2, rig.mintA, rig.mintB, 100, 200))
}

func TestPauseResume(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newFundedPosition(t, 1_000_000, 0)
	ctx := context.Background()

	require.NoError(t, rig.engine.Pause(ctx, rig.owner, 1))
	assert.True(t, rig.position(t, 1).PauseFlag)

	rig.setPrice(150_000000, 0)
	_, err := rig.engine.RebalancePosition(ctx, rig.owner, 1)
	assert.ErrorIs(t, err, protocol.ErrPositionPaused)

	// Deposits and withdrawals still work while paused.
	rig.bank.Mint(rig.mintA, rig.owner, 1_000_000)
	_, err = rig.engine.Deposit(ctx, rig.owner, 1, 1_000_000, 0)
	require.NoError(t, err)
	_, err = rig.engine.Withdraw(ctx, rig.owner, 1, 50)
	require.NoError(t, err)

	require.NoError(t, rig.engine.Resume(ctx, rig.owner, 1))
	_, err = rig.engine.RebalancePosition(ctx, rig.owner, 1)
	require.NoError(t, err)
}
