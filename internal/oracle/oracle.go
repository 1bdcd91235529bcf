package oracle

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrFeedNotFound = errors.New("price feed not found")

// PriceData is one oracle reading: a fixed-point mantissa with its exponent,
// the reported confidence interval in the same scale, and the publish time
// used for staleness checks.
type PriceData struct {
	Price       int64     `json:"price"`
	Confidence  uint64    `json:"conf"`
	Exponent    int32     `json:"exponent"`
	PublishTime time.Time `json:"publish_time"`
}

// PriceFeed supplies the latest reading for a feed id. Implementations do not
// judge staleness; the caller rejects readings older than its bound.
type PriceFeed interface {
	GetPrice(ctx context.Context, feedID string) (PriceData, error)
}

// ManualFeed is a settable in-memory feed, used in simulation mode and tests.
type ManualFeed struct {
	mu     sync.RWMutex
	prices map[string]PriceData
}

func NewManualFeed() *ManualFeed {
	return &ManualFeed{prices: make(map[string]PriceData)}
}

// Set stores the reading returned for feedID from now on.
func (f *ManualFeed) Set(feedID string, data PriceData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[feedID] = data
}

func (f *ManualFeed) GetPrice(_ context.Context, feedID string) (PriceData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.prices[feedID]
	if !ok {
		return PriceData{}, ErrFeedNotFound
	}
	return data, nil
}
