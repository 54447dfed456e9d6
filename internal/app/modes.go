package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfeed/compindex/internal/domain"
	"github.com/quantfeed/compindex/internal/feed"
	"github.com/quantfeed/compindex/internal/index"
	"github.com/quantfeed/compindex/internal/pipeline"
	"github.com/quantfeed/compindex/internal/publish"
	"github.com/quantfeed/compindex/internal/server"
	"github.com/quantfeed/compindex/internal/server/handler"
	"github.com/quantfeed/compindex/internal/server/ws"
	"github.com/quantfeed/compindex/internal/service"
)

// multiEnqueuer fans one message out to several publish queues. The handle
// of the first queue is returned so callers can still observe delivery of
// the primary path.
type multiEnqueuer struct {
	queues []*publish.Queue
}

func (m *multiEnqueuer) Enqueue(channel string, payload []byte) (*publish.Handle, error) {
	var first *publish.Handle
	var firstErr error
	for _, q := range m.queues {
		h, err := q.Enqueue(channel, payload)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if first == nil {
			first = h
		}
	}
	if first == nil {
		return nil, firstErr
	}
	return first, nil
}

// IndexMode runs the ingestion and computation core: one feed per enabled
// exchange, the index engine, the publish queues, and the fan-out service.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startIndexCore(ctx, g, deps); err != nil {
		return fmt.Errorf("index mode: %w", err)
	}

	return g.Wait()
}

// MonitorMode runs only the read-side API: HTTP handlers over the store and
// cache plus the WebSocket hub bridging the signal bus.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := service.NewIndexService(
		deps.IndexStore, deps.IndexCache, nil, nil,
		a.cfg.Publish.ChannelPrefix, a.logger,
	)
	a.startHTTPServer(ctx, g, deps, svc, nil)

	return g.Wait()
}

// ArchiveMode runs the cold-storage archiver: once immediately when no cron
// expression is configured, otherwise on the cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 archiver is not configured")
	}

	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	if a.cfg.Archive.Cron == "" {
		return arch.Run(ctx)
	}
	return arch.RunCron(ctx, a.cfg.Archive.Cron)
}

// FullMode runs every subsystem: ingestion and computation, the monitor API,
// and the archiver when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startIndexCore(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	var archiveTrigger chan struct{}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiveTrigger = make(chan struct{}, 1)
		arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)

		if cron := a.cfg.Archive.Cron; cron != "" {
			g.Go(func() error {
				return arch.RunCron(ctx, cron)
			})
		}
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-archiveTrigger:
					if err := arch.Run(ctx); err != nil {
						a.logger.ErrorContext(ctx, "triggered archive run failed",
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}

	if a.cfg.Server.Enabled {
		svc := service.NewIndexService(
			deps.IndexStore, deps.IndexCache, nil, nil,
			a.cfg.Publish.ChannelPrefix, a.logger,
		)
		a.startHTTPServer(ctx, g, deps, svc, archiveTrigger)
	}

	return g.Wait()
}

// startIndexCore wires the snapshot table, assembler, policy engine, publish
// queues, fan-out service, index engine, and one feed per enabled exchange
// onto the given errgroup.
func (a *App) startIndexCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	exchanges := a.cfg.EnabledExchanges()
	if len(exchanges) == 0 {
		return fmt.Errorf("no enabled exchanges configured")
	}

	symbols := a.cfg.Index.Symbols
	windows := a.cfg.Index.Durations()

	table := index.NewSnapshotTable()

	idx := make([]index.Exchange, 0, len(exchanges))
	for _, ex := range exchanges {
		idx = append(idx, index.Exchange{ID: ex.ID, Name: ex.Name})
	}
	asm := index.NewAssembler(table, idx, a.cfg.Index.Stale.Duration, a.cfg.Index.Depth)
	policy := index.NewPolicyEngine(a.cfg.Index.ProvisionalMax.Duration, a.cfg.Index.BasePriority)

	// Publish queues: the signal bus is always a sink, the remote collector
	// is added when configured.
	busQueue := publish.NewQueue(
		publish.NewBusTransport(deps.SignalBus),
		a.cfg.Publish.QueueSize,
		a.cfg.Publish.DropOldest,
		a.logger,
	)
	g.Go(func() error {
		return busQueue.Run(ctx)
	})

	queues := []*publish.Queue{busQueue}
	if a.cfg.Publish.CollectorURL != "" {
		collector := publish.NewCollectorTransport(a.cfg.Publish.CollectorURL, a.logger)
		g.Go(func() error {
			return collector.Run(ctx)
		})

		collectorQueue := publish.NewQueue(
			collector,
			a.cfg.Publish.QueueSize,
			a.cfg.Publish.DropOldest,
			a.logger,
		)
		g.Go(func() error {
			return collectorQueue.Run(ctx)
		})
		queues = append(queues, collectorQueue)
	}

	svc := service.NewIndexService(
		deps.IndexStore,
		deps.IndexCache,
		&multiEnqueuer{queues: queues},
		deps.Notifier,
		a.cfg.Publish.ChannelPrefix,
		a.logger,
	)

	engine := index.NewEngine(
		table, asm, policy, symbols, windows,
		func(ctx context.Context, res domain.IndexResult) {
			if err := svc.HandleResult(ctx, res); err != nil {
				a.logger.ErrorContext(ctx, "result fan-out failed",
					slog.String("symbol", res.Symbol),
					slog.String("error", err.Error()),
				)
			}
		},
		a.logger,
	)
	g.Go(func() error {
		return engine.Run(ctx)
	})

	normalizer := feed.NewNormalizer(symbols)

	onDisconnect := func(exchangeName string, err error) {
		msg := fmt.Sprintf("feed %s disconnected: %v", exchangeName, err)
		if nerr := deps.Notifier.Notify(context.Background(), "feed_disconnected", "Feed disconnected", msg); nerr != nil {
			a.logger.Warn("feed disconnect notify failed",
				slog.String("exchange", exchangeName),
				slog.String("error", nerr.Error()),
			)
		}
	}

	for _, ex := range exchanges {
		f := feed.NewExchangeFeed(
			ex.ID, ex.Name, ex.WsURL, symbols,
			normalizer, engine.HandleSnapshot, onDisconnect,
			a.logger,
		)
		g.Go(func() error {
			return f.Run(ctx)
		})
	}

	return nil
}

// startHTTPServer adds the monitor API server and the WebSocket hub to the
// given errgroup. archiveTrigger is optional; when non-nil, POST
// /api/archive/trigger sends on it to request one archive run.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.IndexService,
	archiveTrigger chan<- struct{},
) {
	windows := a.cfg.Index.Durations()
	defaultWindow := 5 * time.Second
	if len(windows) > 0 {
		defaultWindow = windows[0]
	}
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Symbols:   a.cfg.Index.Symbols,
		StartedAt: startedAt,
		Channels:  []string{a.cfg.Publish.ChannelPrefix + ":*", "events"},
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.Index.Symbols, windows, startedAt),
		Index:  handler.NewIndexHandler(svc, defaultWindow, a.logger),
		Audit:  handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if archiveTrigger != nil {
		handlers.Archive = handler.NewArchiveHandler(a.logger).WithTriggerChannel(archiveTrigger)
	}
	if deps.SignalBus != nil {
		handlers.Stream = handler.NewStreamHandler(deps.SignalBus, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	if a.cfg.Server.RateLimit > 0 {
		srv.WithRateLimit(deps.RateLimiter, a.cfg.Server.RateLimit, time.Second)
	}

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
