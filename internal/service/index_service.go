// Package service coordinates the downstream consumers of emitted index
// records: durable storage, the last-value cache, the publish queue, and
// operator notifications.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfeed/compindex/internal/domain"
	"github.com/quantfeed/compindex/internal/publish"
)

// Enqueuer is the slice of the publish queue the service needs.
type Enqueuer interface {
	Enqueue(channel string, payload []byte) (*publish.Handle, error)
}

// EventNotifier delivers operator alerts for a named event type.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

type stateKey struct {
	symbol string
	window time.Duration
}

// IndexService fans each emitted index record out to the store, the cache,
// and the publish queue, and raises operator alerts when a (symbol, window)
// pair enters or leaves the no_publish state.
type IndexService struct {
	store    domain.IndexStore
	cache    domain.IndexCache
	queue    Enqueuer
	notifier EventNotifier
	prefix   string
	logger   *slog.Logger

	mu        sync.Mutex
	noPublish map[stateKey]bool
}

// NewIndexService creates an IndexService. cache, queue, and notifier may be
// nil; the corresponding fan-out step is skipped.
func NewIndexService(
	store domain.IndexStore,
	cache domain.IndexCache,
	queue Enqueuer,
	notifier EventNotifier,
	channelPrefix string,
	logger *slog.Logger,
) *IndexService {
	if channelPrefix == "" {
		channelPrefix = "index"
	}
	return &IndexService{
		store:     store,
		cache:     cache,
		queue:     queue,
		notifier:  notifier,
		prefix:    channelPrefix,
		logger:    logger.With(slog.String("component", "index_service")),
		noPublish: make(map[stateKey]bool),
	}
}

// HandleResult processes one emitted record. Every record is persisted,
// including no_publish rows, which form the gap audit trail. Records that
// carry a publishable value are also cached and enqueued for delivery.
func (s *IndexService) HandleResult(ctx context.Context, res domain.IndexResult) error {
	if err := s.store.Insert(ctx, res); err != nil {
		// Storage failure must not block the live publish path.
		s.logger.ErrorContext(ctx, "store insert failed",
			slog.String("symbol", res.Symbol),
			slog.Duration("window", res.Window),
			slog.String("error", err.Error()),
		)
	}

	s.trackTransition(ctx, res)

	if res.NoPublish {
		return nil
	}

	if s.cache != nil {
		if err := s.cache.SetIndex(ctx, res); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("symbol", res.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.queue != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("service: marshal index result for %q: %w", res.Symbol, err)
		}
		channel := s.prefix + ":" + res.Symbol
		if _, err := s.queue.Enqueue(channel, payload); err != nil {
			return fmt.Errorf("service: enqueue index result for %q: %w", res.Symbol, err)
		}
	}

	return nil
}

// trackTransition raises an alert when a pair enters no_publish and another
// when it recovers. Repeated no_publish windows stay silent.
func (s *IndexService) trackTransition(ctx context.Context, res domain.IndexResult) {
	key := stateKey{symbol: res.Symbol, window: res.Window}

	s.mu.Lock()
	was := s.noPublish[key]
	s.noPublish[key] = res.NoPublish
	s.mu.Unlock()

	if res.NoPublish == was || s.notifier == nil {
		return
	}

	if res.NoPublish {
		msg := fmt.Sprintf("index %s (%s window) has no publishable value; last-good value expired", res.Symbol, res.Window)
		if err := s.notifier.Notify(ctx, "index_no_publish", "Index gap", msg); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("event", "index_no_publish"),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	msg := fmt.Sprintf("index %s (%s window) is publishing again at %.6f", res.Symbol, res.Window, res.IndexMid)
	if err := s.notifier.Notify(ctx, "index_recovered", "Index recovered", msg); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", "index_recovered"),
			slog.String("error", err.Error()),
		)
	}
}

// Latest returns the most recent cached record for a symbol and window.
func (s *IndexService) Latest(ctx context.Context, symbol string, window time.Duration) (domain.IndexResult, error) {
	res, err := s.cache.GetIndex(ctx, symbol, window)
	if err != nil {
		return domain.IndexResult{}, fmt.Errorf("service: latest index for %q: %w", symbol, err)
	}
	return res, nil
}

// History returns stored records for a symbol and window, newest first.
func (s *IndexService) History(ctx context.Context, symbol string, window time.Duration, opts domain.ListOpts) ([]domain.IndexResult, error) {
	results, err := s.store.ListBySymbol(ctx, symbol, window, opts)
	if err != nil {
		return nil, fmt.Errorf("service: index history for %q: %w", symbol, err)
	}
	return results, nil
}
