package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
	"github.com/sgerhardt/quotebot/internal/engine"
	"github.com/sgerhardt/quotebot/internal/feed"
	"github.com/sgerhardt/quotebot/internal/ledger"
	"github.com/sgerhardt/quotebot/internal/notify"
	"github.com/sgerhardt/quotebot/internal/risk"
	"github.com/sgerhardt/quotebot/internal/server"
	"github.com/sgerhardt/quotebot/internal/server/handler"
	"github.com/sgerhardt/quotebot/internal/server/ws"
	"github.com/sgerhardt/quotebot/internal/sim"
	"github.com/sgerhardt/quotebot/internal/strategy"
)

// ledgerSaveInterval throttles durable snapshot writes; the engine publishes
// every tick but the ledger store only needs a recent restore point.
const ledgerSaveInterval = 5 * time.Second

// riskExitReasons are the exit triggers raised by the risk controller, as
// opposed to free-form strategy entry reasons. Trades carrying one of these
// fan out to the configured notifiers.
var riskExitReasons = map[string]bool{
	"trailing_stop":     true,
	"take_profit":       true,
	"force_close_pnl":   true,
	"max_hold":          true,
	"force_close_retry": true,
	"equity_halt":       true,
}

// TradeMode connects the live WebSocket feed to the engine and runs until the
// context is cancelled. The HTTP server, archiver, and notification fan-out
// run alongside when configured.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("ws_url", a.cfg.Feed.WsURL),
	)

	g, ctx := errgroup.WithContext(ctx)

	hub := a.newHub()
	guard := a.newGuard()

	// An optional capture file records every live event for later replay.
	var recorder *feed.Recorder
	if a.cfg.Feed.CapturePath != "" {
		var err error
		recorder, err = feed.NewRecorder(a.cfg.Feed.CapturePath, a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				a.logger.Warn("capture close failed", slog.String("error", err.Error()))
			}
		}()
	}

	// One engine and feed subscription per tracked instrument, all sharing
	// the guard: a drawdown breach on any instrument halts every engine.
	var primary *engine.Engine
	for _, inst := range a.cfg.InstrumentList() {
		eng, wsFeed, err := a.buildLiveEngine(inst, guard, deps, hub, recorder)
		if err != nil {
			return err
		}
		if primary == nil {
			primary = eng
		}

		a.restoreLedger(ctx, deps, inst, eng)

		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
		g.Go(func() error {
			return eng.Run(ctx)
		})
	}

	a.startSupport(ctx, g, deps, hub, primary)

	return g.Wait()
}

// ReplayMode drives the engine from a recorded event file instead of a live
// feed. Sequence gaps cannot be resynced, so the book stays degraded until
// the next snapshot row in the recording.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode",
		slog.String("path", a.cfg.Feed.ReplayPath),
		slog.Float64("speed", a.cfg.Feed.ReplaySpeed),
	)

	g, ctx := errgroup.WithContext(ctx)

	hub := a.newHub()
	eng, err := a.buildEngine(a.cfg.Instrument, a.newGuard(), deps, hub, nil)
	if err != nil {
		return err
	}

	replay := feed.NewReplayFeed(a.cfg.Feed.ReplayPath, a.cfg.Feed.ReplaySpeed, eng.HandleEvent, a.logger)

	g.Go(func() error {
		defer replay.Close()
		if err := replay.Run(ctx); err != nil {
			return err
		}
		// The recording is exhausted. Without an HTTP server there is
		// nothing left to serve, so end the run cleanly.
		if !a.cfg.Server.Enabled {
			return context.Canceled
		}
		a.logger.InfoContext(ctx, "replay finished, serving final state")
		return nil
	})
	g.Go(func() error {
		return eng.Run(ctx)
	})

	a.startSupport(ctx, g, deps, hub, eng)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServerMode serves the API without a market feed: status comes from the
// Redis snapshot cache and live updates are bridged from the status bus
// published by a trade-mode process elsewhere.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: server mode requires server.enabled")
	}
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := a.newHub()
	source := &cachedStatusSource{
		cache:      deps.SnapshotCache,
		instrument: a.cfg.Instrument,
		logger:     a.logger,
	}

	g.Go(func() error {
		return hub.Run(ctx)
	})
	if deps.StatusBus != nil {
		g.Go(func() error {
			return hub.BridgeBus(ctx, deps.StatusBus, "status:*", ws.ChannelStatus)
		})
	}

	a.serveHTTP(ctx, g, hub, source, deps)

	return g.Wait()
}

// newGuard builds the equity drawdown guard shared by every engine in the
// process, or nil when the guard is disabled.
func (a *App) newGuard() *risk.DrawdownGuard {
	if a.cfg.Risk.MaxDrawdown <= 0 {
		return nil
	}
	return risk.NewDrawdownGuard(a.cfg.Risk.MaxDrawdown)
}

// buildLiveEngine wires a WebSocket feed and an engine together. The feed's
// handler must exist before the engine and the engine's resync source is the
// feed, so the handler indirects through a variable assigned afterwards.
func (a *App) buildLiveEngine(instrument string, guard *risk.DrawdownGuard, deps *Dependencies, hub *ws.Hub, recorder *feed.Recorder) (*engine.Engine, *feed.WSFeed, error) {
	var eng *engine.Engine
	wsFeed := feed.NewWSFeed(
		a.cfg.Feed.WsURL,
		instrument,
		a.cfg.Feed.Depth,
		func(ctx context.Context, ev domain.BookEvent) {
			if recorder != nil {
				recorder.Capture(ev)
			}
			eng.HandleEvent(ctx, ev)
		},
		a.logger,
	)
	eng, err := a.buildEngine(instrument, guard, deps, hub, wsFeed)
	if err != nil {
		return nil, nil, err
	}
	return eng, wsFeed, nil
}

// buildEngine assembles the book replica, fill simulator, ledger, risk
// controller, and quoting strategy into one engine for the configured
// instrument.
func (a *App) buildEngine(instrument string, guard *risk.DrawdownGuard, deps *Dependencies, hub *ws.Hub, source feed.Source) (*engine.Engine, error) {
	bk := book.New(instrument, a.logger,
		book.WithCrossTolerance(a.cfg.Engine.CrossToleranceTicks))

	var slip sim.SlippageModel = sim.NoSlippage{}
	if a.cfg.Sim.SlippageMin != 0 || a.cfg.Sim.SlippageMax != 0 {
		slip = sim.NewUniformSlippage(a.cfg.Sim.SlippageMin, a.cfg.Sim.SlippageMax, a.cfg.Sim.SlippageSeed)
	}
	simulator := sim.New(slip, sim.FillPolicy(a.cfg.Sim.FillPolicy), a.logger)

	led := ledger.New(instrument, ledger.Config{
		InitialBalance: a.cfg.Ledger.InitialBalance,
		FeeRate:        a.cfg.Ledger.FeeRate,
		Spot:           a.cfg.Ledger.Spot,
		AllowFlip:      a.cfg.Ledger.AllowFlip,
		HistoryLimit:   a.cfg.Ledger.HistoryLimit,
	}, a.logger)

	riskCtl := risk.NewController(risk.Config{
		TakeProfitPct:        a.cfg.Risk.TakeProfitPct,
		TakeProfitAbs:        a.cfg.Risk.TakeProfitAbs,
		StopPct:              a.cfg.Risk.StopPct,
		StopAbs:              a.cfg.Risk.StopAbs,
		ForceClosePnL:        a.cfg.Risk.ForceClosePnL,
		MaxHold:              a.cfg.Risk.MaxHold.Duration,
		ForceCloseMaxRetries: a.cfg.Risk.ForceCloseMaxRetries,
		MaxInventory:         a.cfg.Risk.MaxInventory,
		MaxExposure:          a.cfg.Risk.MaxExposure,
		Adverse: risk.AdverseConfig{
			MinSpreadRatio: a.cfg.Risk.Adverse.MinSpreadRatio,
			DeltaThreshold: a.cfg.Risk.Adverse.DeltaThreshold,
			ToxicityFloor:  a.cfg.Risk.Adverse.ToxicityFloor,
			Depth:          a.cfg.Risk.Adverse.Depth,
			Alpha:          a.cfg.Risk.Adverse.Alpha,
		},
	}, a.logger)

	quoter, err := strategy.New(strategy.Config{
		Name:         a.cfg.Strategy.Name,
		Instrument:   instrument,
		OrderSize:    a.cfg.Strategy.OrderSize,
		MaxInventory: a.cfg.Strategy.MaxInventory,
		Params:       a.cfg.Strategy.Params,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build strategy: %w", err)
	}

	var eng *engine.Engine

	opts := []engine.Option{
		engine.WithPublisher(a.publisher(deps, hub)),
		engine.WithTradeSink(a.tradeSink(deps, hub, func() domain.StatusSnapshot {
			return eng.Status()
		})),
	}
	if guard != nil {
		opts = append(opts, engine.WithGuard(guard))
	}
	if source != nil {
		opts = append(opts, engine.WithSource(source))
	}
	if deps.Notifier != nil {
		opts = append(opts, engine.WithAlerter(a.alerter(deps)))
	}

	eng = engine.New(engine.Config{
		Instrument: instrument,
		Depth:      a.cfg.Engine.Depth,
		Buffer:     a.cfg.Engine.Buffer,
	}, bk, simulator, led, riskCtl, quoter, a.logger, opts...)

	return eng, nil
}

// publisher fans one status snapshot out to the WebSocket hub, the Redis
// cache and bus, and (throttled) the durable ledger store. It runs on the
// engine goroutine, so it must stay cheap and never block.
func (a *App) publisher(deps *Dependencies, hub *ws.Hub) engine.Publisher {
	var lastSave time.Time
	return func(ctx context.Context, snap domain.StatusSnapshot) {
		if hub != nil {
			hub.BroadcastStatus(snap)
		}
		if deps.SnapshotCache != nil {
			if err := deps.SnapshotCache.Set(ctx, snap); err != nil {
				a.logger.WarnContext(ctx, "snapshot cache write failed", slog.String("error", err.Error()))
			}
		}
		if deps.StatusBus != nil {
			if payload, err := json.Marshal(snap); err == nil {
				if err := deps.StatusBus.Publish(ctx, "status:"+snap.Instrument, payload); err != nil {
					a.logger.WarnContext(ctx, "status bus publish failed", slog.String("error", err.Error()))
				}
			}
		}
		if deps.LedgerStore != nil && snap.Time.Sub(lastSave) >= ledgerSaveInterval {
			if err := deps.LedgerStore.Save(ctx, snap); err != nil {
				a.logger.WarnContext(ctx, "ledger snapshot save failed", slog.String("error", err.Error()))
			} else {
				lastSave = snap.Time
			}
		}
	}
}

// tradeSink persists and broadcasts each booked trade, and alerts on
// risk-driven exits. status is evaluated lazily because the engine that
// produces it is constructed after this sink.
func (a *App) tradeSink(deps *Dependencies, hub *ws.Hub, status func() domain.StatusSnapshot) engine.TradeSink {
	return func(ctx context.Context, rec domain.TradeRecord) {
		if hub != nil {
			hub.BroadcastTrade(rec)
		}
		if deps.TradeStore != nil {
			if err := deps.TradeStore.Insert(ctx, rec); err != nil {
				a.logger.ErrorContext(ctx, "trade insert failed",
					slog.String("trade_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if deps.Notifier == nil || !riskExitReasons[rec.Reason] {
			return
		}
		if rec.Reason == "equity_halt" {
			if err := deps.Notifier.NotifyHalt(ctx, status()); err != nil {
				a.logger.WarnContext(ctx, "halt notification failed", slog.String("error", err.Error()))
			}
			return
		}
		if err := deps.Notifier.NotifyForceClose(ctx, rec); err != nil {
			a.logger.WarnContext(ctx, "force close notification failed", slog.String("error", err.Error()))
		}
	}
}

// alerter forwards engine alerts to the configured notification channels.
func (a *App) alerter(deps *Dependencies) engine.Alerter {
	titles := map[string]string{
		notify.EventResync: "Book resync",
		notify.EventError:  "Engine error",
	}
	return func(ctx context.Context, event, message string) {
		title, ok := titles[event]
		if !ok {
			title = "Engine alert"
		}
		if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
			a.logger.WarnContext(ctx, "alert notification failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// restoreLedger reloads the last persisted session state into the engine.
// A missing snapshot just means a fresh session.
func (a *App) restoreLedger(ctx context.Context, deps *Dependencies, instrument string, eng *engine.Engine) {
	if deps.LedgerStore == nil {
		return
	}
	snap, err := deps.LedgerStore.Load(ctx, instrument)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "ledger restore failed, starting fresh", slog.String("error", err.Error()))
		}
		return
	}
	if err := eng.Restore(snap); err != nil {
		a.logger.WarnContext(ctx, "ledger restore rejected, starting fresh", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "ledger restored",
		slog.Float64("cash", snap.CashBalance),
		slog.Float64("realized_pnl", snap.RealizedPnL),
	)
}

// startSupport launches the goroutines shared by trade and replay mode: the
// WebSocket hub, the HTTP server, and the trade archiver.
func (a *App) startSupport(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, eng *engine.Engine) {
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.serveHTTP(ctx, g, hub, eng, deps)
	}

	if deps.Archiver != nil && a.cfg.S3.ArchiveInterval.Duration > 0 {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration, func() *domain.StatusSnapshot {
				snap := eng.Status()
				if snap.Time.IsZero() {
					return nil
				}
				return &snap
			})
		})
	}
}

// serveHTTP builds the REST handlers and runs the HTTP server until the
// context is cancelled.
func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group, hub *ws.Hub, source handler.StatusSource, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health: handler.NewHealthHandler(time.Now().UTC()),
		Status: handler.NewStatusHandler(source, a.cfg.Mode),
		Book:   handler.NewBookHandler(source),
		Trades: handler.NewTradesHandler(source, deps.TradeStore, a.logger),
	}, hub, a.logger)

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

func (a *App) newHub() *ws.Hub {
	return ws.NewHub(a.cfg.Mode, a.logger)
}

// cachedStatusSource serves status reads in server mode from the Redis
// snapshot cache instead of a local engine.
type cachedStatusSource struct {
	cache      domain.SnapshotCache
	instrument string
	logger     *slog.Logger
}

func (s *cachedStatusSource) Status() domain.StatusSnapshot {
	if s.cache == nil {
		return domain.StatusSnapshot{Instrument: s.instrument}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.cache.Get(ctx, s.instrument)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("snapshot cache read failed", slog.String("error", err.Error()))
		}
		return domain.StatusSnapshot{Instrument: s.instrument}
	}
	return snap
}
