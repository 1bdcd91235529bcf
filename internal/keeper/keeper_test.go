package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianfi/reallocator/internal/bank"
	"github.com/meridianfi/reallocator/internal/engine"
	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/oracle"
	"github.com/meridianfi/reallocator/internal/types"
	"github.com/meridianfi/reallocator/internal/venue"
)

const testFeedID = "TOKENA/TOKENB"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) Slot() uint64   { return 5000 }

func newSweepFixture(t *testing.T) (*Keeper, *engine.Engine, *oracle.ManualFeed, types.Address, types.Address, types.Address) {
	t.Helper()
	ctx := context.Background()

	owner := types.DeriveAddress([]byte("sweep"), []byte("owner"))
	keeperAddr := types.DeriveAddress([]byte("sweep"), []byte("keeper"))
	mintA := types.DeriveAddress([]byte("sweep"), []byte("mint-a"))
	mintB := types.DeriveAddress([]byte("sweep"), []byte("mint-b"))

	tokenBank := bank.NewMemoryBank()
	feed := oracle.NewManualFeed()
	clock := fixedClock{now: time.Unix(1_700_000_000, 0)}

	eng, err := engine.New(engine.Config{
		Registry:     ledger.NewMemoryRegistry(),
		Bank:         tokenBank,
		LPVenue:      venue.NewSimLiquidityVenue(),
		LendingVenue: venue.NewSimLendingVenue(),
		Oracle:       feed,
		FeedID:       testFeedID,
		Clock:        clock,
	})
	require.NoError(t, err)

	require.NoError(t, eng.InitializeProtocol(ctx, keeperAddr, keeperAddr, 0))
	require.NoError(t, eng.InitializeUser(ctx, owner))

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, eng.CreatePosition(ctx, owner, id, mintA, mintB, 100_000000, 200_000000))
		tokenBank.Mint(mintA, owner, 1_000_000)
		_, err := eng.Deposit(ctx, owner, id, 1_000_000, 0)
		require.NoError(t, err)
	}

	feed.Set(testFeedID, oracle.PriceData{
		Price:       150_000000,
		Exponent:    -6,
		PublishTime: clock.now,
	})

	return New(eng, keeperAddr, time.Minute), eng, feed, owner, mintA, mintB
}

func position(t *testing.T, eng *engine.Engine, owner types.Address, id uint64) types.Position {
	t.Helper()
	var pos types.Position
	require.NoError(t, eng.Registry().View(func(tx ledger.Tx) error {
		p, ok := tx.Position(owner, id)
		require.True(t, ok)
		pos = p
		return nil
	}))
	return pos
}

func TestRunOnce_SweepsAllOpenPositions(t *testing.T) {
	k, eng, _, owner, _, _ := newSweepFixture(t)

	k.runOnce(context.Background())

	for id := uint64(1); id <= 3; id++ {
		pos := position(t, eng, owner, id)
		assert.True(t, pos.HasLP(), "position %d should be deployed after the sweep", id)
		assert.Equal(t, uint64(0), pos.TokenAIdle)
	}
}

func TestRunOnce_SkipsPausedPositions(t *testing.T) {
	k, eng, _, owner, _, _ := newSweepFixture(t)
	require.NoError(t, eng.Pause(context.Background(), owner, 2))

	k.runOnce(context.Background())

	first := position(t, eng, owner, 1)
	paused := position(t, eng, owner, 2)
	third := position(t, eng, owner, 3)
	assert.True(t, first.HasLP())
	assert.False(t, paused.HasLP(), "a paused position must be left alone")
	assert.True(t, third.HasLP())
}

func TestRunOnce_ToleratesStaleOracle(t *testing.T) {
	k, eng, feed, owner, _, _ := newSweepFixture(t)
	feed.Set(testFeedID, oracle.PriceData{
		Price:       150_000000,
		Exponent:    -6,
		PublishTime: time.Unix(1_600_000_000, 0),
	})

	// The sweep finishes without touching anything; the next one retries.
	k.runOnce(context.Background())
	pos := position(t, eng, owner, 1)
	assert.False(t, pos.HasLP())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	k, _, _, _, _, _ := newSweepFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("keeper did not stop on context cancellation")
	}
}
