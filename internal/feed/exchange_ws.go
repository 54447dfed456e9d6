package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfeed/compindex/internal/domain"
)

const (
	// feedReadDeadline bounds how long a connection may stay silent before
	// it is considered dead. Staleness exclusion downstream covers the gap
	// until reconnect.
	feedReadDeadline = 30 * time.Second

	// feedRedial is the pause between reconnect attempts.
	feedRedial = 2 * time.Second
)

// SnapshotHandler is called for each normalized snapshot.
type SnapshotHandler func(ctx context.Context, snap domain.ExchangeSnapshot)

// DisconnectHandler is called when an exchange connection is lost. The
// snapshot table needs no special handling -- staleness exclusion ages the
// source out uniformly -- but operators want the signal.
type DisconnectHandler func(exchangeName string, err error)

// ExchangeFeed maintains one WebSocket connection to an exchange depth
// stream, normalizes every message, and hands the result to the snapshot
// handler. It reconnects with backoff on disconnect.
type ExchangeFeed struct {
	exchangeID   int
	exchangeName string
	wsURL        string
	symbols      []string
	normalizer   *Normalizer
	onSnapshot   SnapshotHandler
	onDisconnect DisconnectHandler
	logger       *slog.Logger
	closeOnce    sync.Once
	done         chan struct{}
}

// NewExchangeFeed creates a feed for one exchange subscribing to the given
// symbols.
func NewExchangeFeed(
	exchangeID int,
	exchangeName string,
	wsURL string,
	symbols []string,
	normalizer *Normalizer,
	onSnapshot SnapshotHandler,
	onDisconnect DisconnectHandler,
	logger *slog.Logger,
) *ExchangeFeed {
	return &ExchangeFeed{
		exchangeID:   exchangeID,
		exchangeName: exchangeName,
		wsURL:        wsURL,
		symbols:      symbols,
		normalizer:   normalizer,
		onSnapshot:   onSnapshot,
		onDisconnect: onDisconnect,
		logger: logger.With(
			slog.String("component", "exchange_feed"),
			slog.String("exchange", exchangeName),
		),
		done: make(chan struct{}),
	}
}

// Run connects, subscribes to depth for the configured symbols, and runs
// until ctx is cancelled. Reconnects with backoff on disconnect.
func (f *ExchangeFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.onDisconnect != nil {
			f.onDisconnect(f.exchangeName, err)
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", errString(err)),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(feedRedial):
		}
	}
}

func (f *ExchangeFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the connection when the context ends so the read loop unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("feed subscribed", slog.Int("symbols", len(f.symbols)))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(feedReadDeadline))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		snap, err := f.normalizer.Normalize(payload, f.exchangeID, f.exchangeName, time.Now())
		if err != nil {
			// Malformed or unknown-symbol messages are discarded; the
			// stream continues.
			f.logger.Debug("discarding message",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(payload)),
			)
			continue
		}

		if f.onSnapshot != nil {
			f.onSnapshot(ctx, snap)
		}
	}
}

// subscribe sends the depth subscription request for every configured symbol.
func (f *ExchangeFeed) subscribe(conn *websocket.Conn) error {
	msg, err := json.Marshal(map[string]any{
		"op":      "subscribe",
		"channel": "depth",
		"symbols": f.symbols,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Close stops the feed.
func (f *ExchangeFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
