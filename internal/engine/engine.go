/*

This file wires the instruction engine together. Every collaborator the
instructions touch (account registry, token bank, the two venues, the swap
quoter, the price feed, the clock, the event sink) is injected, so the same
engine runs against live services or fully simulated ones.

*/

package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianfi/reallocator/internal/bank"
	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/logger"
	"github.com/meridianfi/reallocator/internal/oracle"
	"github.com/meridianfi/reallocator/internal/types"
	"github.com/meridianfi/reallocator/internal/venue"
)

// Clock supplies wall time and the ledger slot used for rebalance cooldowns.
type Clock interface {
	Now() time.Time
	Slot() uint64
}

// SystemClock derives slots from wall time at the host's nominal slot
// duration.
type SystemClock struct {
	genesis time.Time
}

const slotDuration = 400 * time.Millisecond

func NewSystemClock() *SystemClock {
	return &SystemClock{genesis: time.Now()}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) Slot() uint64 {
	return uint64(time.Since(c.genesis) / slotDuration)
}

// EventSink receives every emitted event after the instruction that produced
// it has committed.
type EventSink interface {
	Publish(event types.Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.GetForComponent("events")}
}

func (s *LogSink) Publish(event types.Event) {
	s.log.Info().Str("kind", event.EventKind()).Interface("event", event).Msg("Event emitted")
}

// MemorySink buffers events in memory. Used by tests and the web server's
// recent-events view when no database is configured.
type MemorySink struct {
	mu     sync.Mutex
	events []types.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(event types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *MemorySink) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(event types.Event) {
	for _, sink := range m {
		sink.Publish(event)
	}
}

// Engine executes the protocol's instruction set against the account
// registry.
type Engine struct {
	log      zerolog.Logger
	registry ledger.Registry
	bank     bank.TokenBank
	lp       venue.LiquidityVenue
	lending  venue.LendingVenue
	swaps    venue.SwapQuoter
	oracle   oracle.PriceFeed
	feedID   string
	clock    Clock
	events   EventSink
}

// Config holds the collaborators for a new Engine.
type Config struct {
	Registry     ledger.Registry
	Bank         bank.TokenBank
	LPVenue      venue.LiquidityVenue
	LendingVenue venue.LendingVenue
	SwapQuoter   venue.SwapQuoter
	Oracle       oracle.PriceFeed
	FeedID       string
	Clock        Clock
	Events       EventSink
}

// New creates an Engine after validating that every required collaborator is
// present.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine config: registry is required")
	}
	if cfg.Bank == nil {
		return nil, fmt.Errorf("engine config: token bank is required")
	}
	if cfg.LPVenue == nil || cfg.LendingVenue == nil {
		return nil, fmt.Errorf("engine config: both venues are required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("engine config: price feed is required")
	}
	if cfg.FeedID == "" {
		return nil, fmt.Errorf("engine config: feed id is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	if cfg.SwapQuoter == nil {
		cfg.SwapQuoter = venue.NoSwapQuoter{}
	}
	if cfg.Events == nil {
		cfg.Events = NewLogSink()
	}

	return &Engine{
		log:      logger.GetForComponent("engine"),
		registry: cfg.Registry,
		bank:     cfg.Bank,
		lp:       cfg.LPVenue,
		lending:  cfg.LendingVenue,
		swaps:    cfg.SwapQuoter,
		oracle:   cfg.Oracle,
		feedID:   cfg.FeedID,
		clock:    cfg.Clock,
		events:   cfg.Events,
	}, nil
}

// Registry exposes the underlying registry for read-only callers (keeper,
// web).
func (e *Engine) Registry() ledger.Registry {
	return e.registry
}
