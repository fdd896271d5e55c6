package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"aster-hedge-bot/internal/alerts"
	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/aster/timesync"
	"aster-hedge-bot/internal/aster/ws"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/events"
	"aster-hedge-bot/internal/hedge"
	"aster-hedge-bot/internal/history"
	historysqlite "aster-hedge-bot/internal/history/sqlite"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/reconcile"
	"aster-hedge-bot/internal/state"
	statesqlite "aster-hedge-bot/internal/state/sqlite"
	"aster-hedge-bot/internal/strategy"
	"aster-hedge-bot/internal/timescale"
	"aster-hedge-bot/internal/tracker"

	"go.uber.org/zap"
)

const (
	feedMaxAge    = 5 * time.Second
	trackerWarmup = 3 * time.Second
	sweepTimeout  = 60 * time.Second
	feedReconnect = 3 * time.Second
)

var errMaxTrades = errors.New("max trade count reached")

type account struct {
	name    string
	client  *rest.Client
	tracker *tracker.Tracker
}

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	bus      *events.Bus
	store    history.Store
	writer   *timescale.Writer
	metrics  *metrics.Metrics
	promSrv  *http.Server
	alerts   *alerts.Telegram
	feed     *ws.Feed
	accountA account
	accountB account
	state    *hedge.State
	sessions state.Store
	coord    *hedge.Coordinator
	sweeper  *reconcile.Sweeper
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.History.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := historysqlite.New(cfg.History.SQLitePath)
	if err != nil {
		return nil, err
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}

	m := metrics.NewNoop()
	var promSrv *http.Server
	if cfg.Metrics.Listen != "" {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		promSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	accountA := buildAccount(cfg, cfg.AccountA, log)
	accountB := buildAccount(cfg, cfg.AccountB, log)

	// Trades recorded by the coordinator land in sqlite and, when
	// configured, stream to Timescale as well.
	var tradeSink history.Store = &teeStore{Store: store, writer: writer}

	sessions, err := statesqlite.New(filepath.Join(filepath.Dir(cfg.History.SQLitePath), "state.db"))
	if err != nil {
		return nil, err
	}
	hedgeState := hedge.NewState()
	if session, ok, err := state.LoadSession(context.Background(), sessions); err != nil {
		log.Warn("session restore failed, starting fresh", zap.Error(err))
	} else if ok {
		var openTime time.Time
		if session.OpenTimeMS > 0 {
			openTime = time.UnixMilli(session.OpenTimeMS)
		}
		hedgeState.Restore(hedge.StateView{
			TradeCount:     session.TradeCount,
			TotalVolume:    session.TotalVolume,
			FundingRate:    session.FundingRate,
			OpenTime:       openTime,
			InitialBalance: session.InitialBalance,
		})
		log.Info("session restored",
			zap.Int("trade_count", session.TradeCount),
			zap.Bool("hedge_open", session.OpenTimeMS > 0))
	}

	bus := events.NewBus()
	coord := hedge.NewCoordinator(
		hedge.Config{
			Symbol:       cfg.Trading.Symbol,
			OrderType:    cfg.Trading.OrderType,
			PositionSide: cfg.Trading.PositionSide,
			TimeInForce:  "GTC",
		},
		hedge.Leg{Client: accountA.client, Tracker: accountA.tracker},
		hedge.Leg{Client: accountB.client, Tracker: accountB.tracker},
		hedgeState, bus, tradeSink, m, log,
	)
	sweeper := reconcile.New(cfg.Trading.Symbol, []reconcile.Account{
		{Name: accountA.name, Client: accountA.client},
		{Name: accountB.name, Client: accountB.client},
	}, bus, m, log)

	return &App{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		writer:   writer,
		metrics:  m,
		promSrv:  promSrv,
		alerts:   alerts.NewTelegram(cfg.Telegram, log),
		feed:     ws.New(cfg.Venue.WSURL, cfg.Trading.Symbol, feedReconnect, log),
		accountA: accountA,
		accountB: accountB,
		state:    hedgeState,
		sessions: sessions,
		coord:    coord,
		sweeper:  sweeper,
	}, nil
}

func buildAccount(cfg *config.Config, acct config.AccountConfig, log *zap.Logger) account {
	clock := timesync.New(cfg.Venue.BaseURL, log.With(zap.String("account", acct.Name)))
	client := rest.New(rest.Options{
		BaseURL:    cfg.Venue.BaseURL,
		APIKey:     acct.APIKey,
		APISecret:  acct.APISecret,
		Timeout:    cfg.Venue.Timeout,
		RecvWindow: cfg.Venue.RecvWindow,
		RateLimit:  cfg.Venue.RateLimit,
		RateBurst:  cfg.Venue.RateBurst,
	}, clock, log.With(zap.String("account", acct.Name)))
	tr := tracker.New(acct.Name, cfg.Trading.Symbol, cfg.Trading.Leverage, client, log)
	return account{name: acct.Name, client: client, tracker: tr}
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.sessions.Close()
	defer a.writer.Close()
	defer a.bus.Close()

	go a.logEvents(a.bus.Subscribe())
	go a.alerts.Forward(ctx, a.bus.Subscribe())
	a.writer.Start(ctx)
	if a.promSrv != nil {
		go func() {
			if err := a.promSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer a.promSrv.Close()
	}

	a.initAccounts(ctx)
	go func() {
		if err := a.feed.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("mark price feed stopped", zap.Error(err))
		}
	}()
	go a.accountA.tracker.Run(ctx)
	go a.accountB.tracker.Run(ctx)

	a.log.Info("hedge engine started",
		zap.String("symbol", a.cfg.Trading.Symbol),
		zap.Float64("usdt_amount", a.cfg.Trading.USDTAmount),
		zap.Int("leverage", a.cfg.Trading.Leverage),
		zap.Duration("hold_time", a.cfg.Trading.HoldTime),
		zap.Int("max_trades", a.cfg.Trading.MaxTrades))

	select {
	case <-ctx.Done():
		return a.shutdown(ctx.Err())
	case <-time.After(trackerWarmup):
	}

	ticker := time.NewTicker(a.cfg.Trading.HoldTime)
	defer ticker.Stop()
	for {
		if err := a.tick(ctx); err != nil {
			if errors.Is(err, errMaxTrades) {
				a.log.Info("max trade count reached, stopping",
					zap.Int("trades", a.state.TradeCount()))
				return a.shutdown(nil)
			}
			a.log.Warn("decision cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return a.shutdown(ctx.Err())
		case <-ticker.C:
		}
	}
}

// initAccounts applies margin mode, leverage, and one-way position mode to
// both accounts. Partial failure leaves the engine in a degraded but
// operating state rather than aborting startup.
func (a *App) initAccounts(ctx context.Context) {
	for _, acct := range []account{a.accountA, a.accountB} {
		log := a.log.With(zap.String("account", acct.name))
		if err := acct.client.SetMarginType(ctx, a.cfg.Trading.Symbol, "CROSSED"); err != nil {
			log.Warn("set margin type failed", zap.Error(err))
		}
		if err := acct.client.SetLeverage(ctx, a.cfg.Trading.Symbol, a.cfg.Trading.Leverage); err != nil {
			log.Warn("set leverage failed", zap.Error(err))
		}
		dual, err := acct.client.PositionMode(ctx)
		if err != nil {
			log.Warn("position mode query failed", zap.Error(err))
			continue
		}
		if dual {
			if err := acct.client.SetPositionMode(ctx, false); err != nil {
				log.Warn("set one-way position mode failed", zap.Error(err))
			}
		}
	}
}

func (a *App) tick(ctx context.Context) error {
	if a.cfg.Trading.MaxTrades > 0 && a.state.TradeCount() >= a.cfg.Trading.MaxTrades {
		return errMaxTrades
	}
	price, fundingRate := a.marketData(ctx)
	snapA := a.accountA.tracker.Snapshot()
	snapB := a.accountB.tracker.Snapshot()

	if snapA.Balance > 0 && snapB.Balance > 0 {
		a.state.SetInitialBalance(snapA.Balance + snapB.Balance)
	}

	in := strategy.Inputs{
		FundingRate: fundingRate,
		Price:       price,
		USDTAmount:  a.cfg.Trading.USDTAmount,
		A:           snapA.Leg(),
		B:           snapB.Leg(),
		OpenTime:    a.state.OpenTime(),
		Now:         time.Now(),
		HoldTime:    a.cfg.Trading.HoldTime,
	}
	decision := strategy.Decide(in)
	a.log.Debug("decision",
		zap.String("action", string(decision.Action)),
		zap.String("reason", decision.Reason),
		zap.Float64("price", price),
		zap.Float64("funding_rate", fundingRate))

	var err error
	if decision.Action != strategy.ActionHold {
		err = a.coord.Execute(ctx, decision, price, fundingRate)
	} else {
		a.state.SetFundingRate(fundingRate)
	}
	a.persistSession(ctx)
	a.recordSnapshot(price, fundingRate, snapA, snapB)
	return err
}

func (a *App) persistSession(ctx context.Context) {
	view := a.state.View()
	var openMS int64
	if !view.OpenTime.IsZero() {
		openMS = view.OpenTime.UnixMilli()
	}
	session := state.Session{
		TradeCount:     view.TradeCount,
		TotalVolume:    view.TotalVolume,
		FundingRate:    view.FundingRate,
		OpenTimeMS:     openMS,
		InitialBalance: view.InitialBalance,
		UpdatedAtMS:    time.Now().UnixMilli(),
	}
	if err := state.SaveSession(ctx, a.sessions, session); err != nil {
		a.log.Warn("session persist failed", zap.Error(err))
	}
}

// marketData prefers the websocket stream when fresh and falls back to REST
// polls through account A's client.
func (a *App) marketData(ctx context.Context) (float64, float64) {
	if a.feed.Fresh(feedMaxAge) {
		price, _ := a.feed.MarkPrice()
		funding, _ := a.feed.FundingRate()
		return price, funding
	}
	price := a.accountA.client.Price(ctx, a.cfg.Trading.Symbol)
	funding := a.accountA.client.FundingRate(ctx, a.cfg.Trading.Symbol)
	return price, funding
}

// shutdown runs the reconciliation sweep on its own context so open
// positions are never abandoned, even when the run context is already
// cancelled.
func (a *App) shutdown(runErr error) error {
	a.log.Info("shutting down, reconciling positions")
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	results := a.sweeper.Run(ctx)
	for _, result := range results {
		if result.Err != nil {
			a.log.Error("account not reconciled",
				zap.String("account", result.Account), zap.Error(result.Err))
		} else {
			a.log.Info("account reconciled", zap.String("account", result.Account))
		}
	}
	return runErr
}

func (a *App) recordSnapshot(price, fundingRate float64, snapA, snapB tracker.Snapshot) {
	view := a.state.View()
	a.writer.EnqueueSnapshot(timescale.HedgeSnapshot{
		Time:        time.Now(),
		Symbol:      a.cfg.Trading.Symbol,
		Price:       price,
		FundingRate: fundingRate,
		Phase:       string(a.coord.Phase()),
		TradeCount:  view.TradeCount,
		TotalVolume: view.TotalVolume,
		SideA:       string(snapA.Side),
		QuantityA:   snapA.Quantity,
		BalanceA:    snapA.Balance,
		PnLA:        snapA.UnrealizedPnL,
		SideB:       string(snapB.Side),
		QuantityB:   snapB.Quantity,
		BalanceB:    snapB.Balance,
		PnLB:        snapB.UnrealizedPnL,
	})
}

// teeStore records trades in sqlite and mirrors them to the Timescale queue.
type teeStore struct {
	history.Store
	writer *timescale.Writer
}

func (t *teeStore) RecordTrade(ctx context.Context, trade history.Trade) error {
	t.writer.EnqueueTrade(trade)
	return t.Store.RecordTrade(ctx, trade)
}

func (a *App) logEvents(stream <-chan events.Event) {
	for event := range stream {
		a.log.Info("event",
			zap.String("kind", string(event.Kind)),
			zap.String("account", event.Account),
			zap.String("message", event.Message))
	}
}
