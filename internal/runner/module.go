package runner

import (
	"context"
	"time"

	"market_maker/internal/journal"
	"market_maker/internal/models"
	"market_maker/internal/modules/config"
	healthsvc "market_maker/internal/modules/health/service"
	okxrest "market_maker/internal/modules/okx_client/service"
	okxws "market_maker/internal/modules/okx_websocket/service"
	"market_maker/internal/notify"
	"market_maker/internal/orders"
	"market_maker/internal/risk"
	"market_maker/internal/strategy"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newMarket(cfg *config.Config, client *okxrest.Client, log *zap.Logger) (Market, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*cfg.OKX.Timeout)
	defer cancel()
	return ResolveMarket(ctx, client, cfg.Trading.InstID, models.TdMode(cfg.Trading.TdMode), log)
}

func newMeasurement(m Market, prices *okxrest.PriceBook, log *zap.Logger) *risk.Measurement {
	return risk.NewMeasurement(m.Instrument, prices, log)
}

func newCalculator(client *okxrest.Client, prices *okxrest.PriceBook, log *zap.Logger) *risk.Calculator {
	return risk.NewCalculator(client, prices, log)
}

func newTracker(m *risk.Measurement, log *zap.Logger) *orders.Tracker {
	return orders.NewTracker(m, log)
}

func newGateway(cfg *config.Config, client *okxrest.Client, tracker *orders.Tracker, j journal.Journal, log *zap.Logger) *orders.Gateway {
	return orders.NewGateway(client, tracker, j, orders.GatewayConfig{
		PlacePause:  cfg.Loop.PlacePause,
		CallTimeout: cfg.Loop.CallTimeout,
	}, log)
}

type loopParams struct {
	fx.In

	Cfg      *config.Config
	Log      *zap.Logger
	Market   Market
	Client   *okxrest.Client
	Params   *config.ParamsLoader
	Book     *okxws.OrderBook
	Orders   *okxws.OrderCache
	Account  *okxws.AccountCache
	Calc     *risk.Calculator
	Measure  *risk.Measurement
	Tracker  *orders.Tracker
	Gateway  *orders.Gateway
	Strategy strategy.Strategy
	Journal  journal.Journal
	Notifier notify.Notifier
	State    *healthsvc.State
}

func newLoop(p loopParams) *Loop {
	return NewLoop(Deps{
		Venue:    p.Client,
		Params:   p.Params,
		Book:     p.Book,
		Orders:   p.Orders,
		Account:  p.Account,
		Risk:     p.Calc,
		Measure:  p.Measure,
		Tracker:  p.Tracker,
		Gateway:  p.Gateway,
		Strategy: p.Strategy,
		Journal:  p.Journal,
		Notifier: p.Notifier,
		State:    p.State,
	}, p.Market, LoopConfigFrom(p.Cfg), p.Log)
}

// run starts the loop on start, and on stop waits for it and pulls every
// resting order. A fatal loop error shuts the app down.
func run(lc fx.Lifecycle, sd fx.Shutdowner, l *Loop, gw *orders.Gateway, n notify.Notifier, m Market, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			n.Sendf("market maker started on %s (%s, %s)", m.Instrument.InstID, m.Instrument.Type, m.TdMode)
			go func() {
				defer close(done)
				if err := l.Run(ctx); err != nil {
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}

			cancelCtx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelTimeout()
			if err := gw.CancelAll(cancelCtx); err != nil {
				log.Error("cancel all on shutdown", zap.Error(err))
			}
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			newMarket,
			newMeasurement,
			newCalculator,
			newTracker,
			newGateway,
			newLoop,
		),
		fx.Invoke(run),
	)
}
