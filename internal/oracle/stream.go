/*

This file contains the websocket client for a streaming price service. The
client subscribes to a set of feed ids, keeps only the most recent reading
per feed, and reconnects with backoff when the connection drops. GetPrice
serves from the cache; the staleness bound enforced by the caller covers the
window where the stream is down.

*/

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/meridianfi/reallocator/internal/logger"
)

const (
	defaultReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
	streamReadTimeout     = 60 * time.Second
	streamWriteTimeout    = 10 * time.Second
)

// streamMessage is one price update frame from the service.
type streamMessage struct {
	FeedID      string `json:"feed_id"`
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Exponent    int32  `json:"exponent"`
	PublishTime int64  `json:"publish_time"`
}

type subscribeRequest struct {
	Type    string   `json:"type"`
	FeedIDs []string `json:"feed_ids"`
}

// StreamingFeed maintains a live subscription to the price service.
type StreamingFeed struct {
	endpoint string
	feedIDs  []string
	log      zerolog.Logger

	mu     sync.RWMutex
	latest map[string]PriceData

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStreamingFeed connects to endpoint, subscribes to feedIDs, and starts
// the read loop.
func NewStreamingFeed(ctx context.Context, endpoint string, feedIDs []string) (*StreamingFeed, error) {
	f := &StreamingFeed{
		endpoint: endpoint,
		feedIDs:  feedIDs,
		log:      logger.GetForComponent("oracle_stream"),
		latest:   make(map[string]PriceData),
		done:     make(chan struct{}),
	}

	conn, err := f.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to price stream: %w", err)
	}

	f.wg.Add(1)
	go f.readLoop(conn)
	return f, nil
}

func (f *StreamingFeed) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	sub := subscribeRequest{Type: "subscribe", FeedIDs: f.feedIDs}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send subscription: %w", err)
	}

	f.log.Info().Str("endpoint", f.endpoint).Int("feeds", len(f.feedIDs)).Msg("Price stream connected")
	return conn, nil
}

func (f *StreamingFeed) readLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	delay := defaultReconnectDelay

	for {
		select {
		case <-f.done:
			conn.Close()
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			f.log.Warn().Err(err).Dur("retry_in", delay).Msg("Price stream disconnected, reconnecting")

			select {
			case <-f.done:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}

			next, connErr := f.connect(context.Background())
			if connErr != nil {
				f.log.Error().Err(connErr).Msg("Price stream reconnect failed")
				continue
			}
			conn = next
			delay = defaultReconnectDelay
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Warn().Err(err).Msg("Discarding malformed price update")
			continue
		}
		if msg.FeedID == "" {
			continue
		}

		f.mu.Lock()
		f.latest[msg.FeedID] = PriceData{
			Price:       msg.Price,
			Confidence:  msg.Conf,
			Exponent:    msg.Exponent,
			PublishTime: time.Unix(msg.PublishTime, 0),
		}
		f.mu.Unlock()
	}
}

func (f *StreamingFeed) GetPrice(_ context.Context, feedID string) (PriceData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.latest[feedID]
	if !ok {
		return PriceData{}, ErrFeedNotFound
	}
	return data, nil
}

// Close stops the read loop and releases the connection.
func (f *StreamingFeed) Close() {
	close(f.done)
	f.wg.Wait()
}
