package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"market_maker/internal/journal"
	"market_maker/internal/models"
	"market_maker/internal/modules/config"
	healthsvc "market_maker/internal/modules/health/service"
	"market_maker/internal/notify"
	"market_maker/internal/orders"
	"market_maker/internal/risk"
	"market_maker/internal/strategy"
	"market_maker/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketData is the live order book of the traded instrument.
type MarketData interface {
	strategy.Book
	LastUpdate() time.Time
	Valid() bool
	Resubscribe(ctx context.Context) error
}

type AccountView interface {
	Account() (models.Account, error)
	Positions() ([]models.Position, error)
}

type Venue interface {
	Maintenance(ctx context.Context) ([]models.MaintenanceEvent, error)
}

type Params interface {
	Load() (config.StrategyParams, error)
	Current() (config.StrategyParams, bool)
}

type Snapshotter interface {
	Snapshot(ctx context.Context, acc models.Account, positions []models.Position) (risk.Snapshot, error)
}

type Measure interface {
	Consume(s risk.Snapshot) error
	NetFilled() decimal.Decimal
	Summary() risk.Summary
	LogSummary()
}

type Executor interface {
	Execute(ctx context.Context, a models.Actions) error
	CancelAll(ctx context.Context) error
}

type Syncer interface {
	Sync(view orders.OrderView) (orders.SyncReport, error)
	Snapshot() []models.StrategyOrder
}

type LoopConfig struct {
	CycleSleep          time.Duration
	UnhealthyBackoff    time.Duration
	ErrorBackoff        time.Duration
	CycleTimeout        time.Duration
	BookMaxAge          time.Duration
	AccountMaxAge       time.Duration
	ResubscribeCooldown time.Duration
	Watchdog            time.Duration
	RiskSummaryEvery    int
}

func LoopConfigFrom(cfg *config.Config) LoopConfig {
	return LoopConfig{
		CycleSleep:          cfg.Loop.CycleSleep,
		UnhealthyBackoff:    cfg.Loop.UnhealthyBackoff,
		ErrorBackoff:        cfg.Loop.ErrorBackoff,
		CycleTimeout:        cfg.Loop.CycleTimeout,
		BookMaxAge:          cfg.Loop.BookMaxAge,
		AccountMaxAge:       cfg.Loop.AccountMaxAge,
		ResubscribeCooldown: cfg.Loop.ResubscribeCooldown,
		Watchdog:            cfg.Loop.Watchdog,
		RiskSummaryEvery:    cfg.Loop.RiskSummaryEvery,
	}
}

type Deps struct {
	Venue    Venue
	Params   Params
	Book     MarketData
	Orders   orders.OrderView
	Account  AccountView
	Risk     Snapshotter
	Measure  Measure
	Tracker  Syncer
	Gateway  Executor
	Strategy strategy.Strategy
	Journal  journal.Journal
	Notifier notify.Notifier
	State    *healthsvc.State
}

// Loop is the single goroutine that drives the market maker, one cycle at a time.
type Loop struct {
	Deps
	market Market
	cfg    LoopConfig
	log    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	lastResub     time.Time
	inMaintenance bool
	healthy       int
}

func NewLoop(d Deps, market Market, cfg LoopConfig, log *zap.Logger) *Loop {
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	return &Loop{
		Deps:   d,
		market: market,
		cfg:    cfg,
		log:    log.Named("loop"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run cycles until ctx is done or a fatal error occurs. Only the fatal
// error is returned.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("loop started",
		zap.String("strategy", l.Strategy.Name()),
		zap.String("instId", l.market.Instrument.InstID),
		zap.String("tdMode", string(l.market.TdMode)),
	)
	go l.watchdog(ctx)

	for ctx.Err() == nil {
		if err := l.Step(ctx); err != nil {
			return err
		}
	}
	l.log.Info("loop stopped")
	return nil
}

// Step runs one cycle, handles its outcome and sleeps.
func (l *Loop) Step(ctx context.Context) error {
	err := l.cycle(ctx)
	if err == nil {
		l.completed(ctx)
		_ = l.sleep(ctx, l.cfg.CycleSleep)
		return nil
	}
	if ctx.Err() != nil {
		// shutting down, the runner's stop hook pulls the quotes
		l.log.Info("cycle interrupted by shutdown", zap.Error(err))
		return nil
	}
	return l.handle(ctx, err)
}

func (l *Loop) completed(ctx context.Context) {
	l.State.TouchCycle(l.now())
	l.State.SetReady(true)
	l.State.SetLastError(nil)
	if l.inMaintenance {
		l.inMaintenance = false
		l.Notifier.Send("venue maintenance over, quoting resumed")
	}

	l.healthy++
	if l.cfg.RiskSummaryEvery > 0 && l.healthy%l.cfg.RiskSummaryEvery == 0 {
		l.Measure.LogSummary()
		if s := l.Measure.Summary(); !s.At.IsZero() {
			l.Journal.RecordRisk(ctx, s)
		}
	}
}

func (l *Loop) handle(ctx context.Context, err error) error {
	kind := KindOf(err)
	l.State.SetReady(false)
	l.State.SetLastError(err)

	switch kind {
	case KindUnhealthy:
		l.log.Warn("cycle skipped", zap.Error(err))
		_ = l.sleep(ctx, l.cfg.UnhealthyBackoff)
		return nil

	case KindMaintenance:
		l.log.Warn("venue maintenance", zap.Error(err))
		if !l.inMaintenance {
			l.inMaintenance = true
			l.Notifier.Sendf("venue maintenance, cancelling quotes: %v", err)
		}
		l.cancelAll(ctx)
		_ = l.sleep(ctx, l.cfg.ErrorBackoff)
		return nil

	case KindFatal:
		l.log.Error("fatal cycle error, stopping", zap.Error(err))
		l.cancelAll(ctx)
		l.Notifier.Sendf("market maker stopped on %s: %v", l.market.Instrument.InstID, err)
		return err
	}

	l.log.Error("cycle failed", zap.Error(err))
	l.cancelAll(ctx)
	_ = l.sleep(ctx, l.cfg.ErrorBackoff)
	return nil
}

func (l *Loop) cancelAll(ctx context.Context) {
	if err := l.Gateway.CancelAll(ctx); err != nil {
		l.log.Error("emergency cancel all failed", zap.Error(err))
		l.Notifier.Sendf("emergency cancel all failed on %s: %v", l.market.Instrument.InstID, err)
	}
}

func (l *Loop) cycle(parent context.Context) (err error) {
	ctx, cancel := context.WithTimeout(parent, l.cfg.CycleTimeout)
	defer cancel()

	span, ctx := tracing.StartSpan(ctx, "maker.cycle")
	span.SetTag("instId", l.market.Instrument.InstID)
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("cycle panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = &CycleError{Kind: KindRetryable, Err: errors.Errorf("panic: %v", p)}
		}
		if err != nil {
			span.SetTag("kind", KindOf(err).String())
		}
		tracing.Finish(span, err)
	}()

	if err = l.traced(ctx, "maker.status", l.checkStatus); err != nil {
		return err
	}

	params, err := l.loadParams()
	if err != nil {
		return err
	}

	var (
		acc       models.Account
		positions []models.Position
	)
	err = l.traced(ctx, "maker.health", func(ctx context.Context) error {
		acc, positions, err = l.healthGate(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if err = l.traced(ctx, "maker.risk", func(ctx context.Context) error {
		return l.measure(ctx, acc, positions)
	}); err != nil {
		return err
	}

	if err = l.traced(ctx, "maker.sync", l.sync); err != nil {
		return err
	}

	var actions models.Actions
	err = l.traced(ctx, "maker.decide", func(ctx context.Context) error {
		actions, err = l.Strategy.Decide(ctx, strategy.State{
			Book:       l.Book,
			Instrument: l.market.Instrument,
			TdMode:     l.market.TdMode,
			Params:     params,
			NetFilled:  l.Measure.NetFilled(),
			Orders:     l.Tracker.Snapshot(),
		})
		if errors.Is(err, models.ErrBookEmpty) {
			return &CycleError{Kind: KindUnhealthy, Err: err}
		}
		return classify(err, "decide")
	})
	if err != nil {
		return err
	}

	if actions.Empty() {
		return nil
	}
	l.log.Debug("actions",
		zap.Int("place", len(actions.Place)),
		zap.Int("amend", len(actions.Amend)),
		zap.Int("cancel", len(actions.Cancel)),
	)
	return l.traced(ctx, "maker.execute", func(ctx context.Context) error {
		return classify(l.Gateway.Execute(ctx, actions), "execute")
	})
}

func (l *Loop) traced(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	span, ctx := tracing.StartSpan(ctx, name)
	err := fn(ctx)
	tracing.Finish(span, err)
	return err
}

func (l *Loop) checkStatus(ctx context.Context) error {
	events, err := l.Venue.Maintenance(ctx)
	if err != nil {
		return classify(err, "system status")
	}
	if len(events) == 0 {
		return nil
	}
	titles := make([]string, 0, len(events))
	for _, ev := range events {
		titles = append(titles, fmt.Sprintf("%s (%s)", ev.Title, ev.ServiceType))
	}
	return &CycleError{Kind: KindMaintenance, Err: errors.Errorf("ongoing: %s", strings.Join(titles, "; "))}
}

// loadParams keeps the last good params when a reload fails.
func (l *Loop) loadParams() (config.StrategyParams, error) {
	p, err := l.Params.Load()
	if err == nil {
		return p, nil
	}
	if last, ok := l.Params.Current(); ok {
		l.log.Warn("params reload failed, keeping previous", zap.Error(err))
		return last, nil
	}
	return config.StrategyParams{}, classify(err, "params")
}

func (l *Loop) healthGate(ctx context.Context) (models.Account, []models.Position, error) {
	now := l.now()

	updated := l.Book.LastUpdate()
	if !updated.IsZero() {
		l.State.TouchBook(updated)
	}
	if age := now.Sub(updated); updated.IsZero() || age > l.cfg.BookMaxAge {
		return models.Account{}, nil, unhealthy("order book stale, last update %s", updated.Format(time.RFC3339))
	}

	if !l.Book.Valid() {
		if now.Sub(l.lastResub) >= l.cfg.ResubscribeCooldown {
			l.lastResub = now
			if err := l.Book.Resubscribe(ctx); err != nil {
				l.log.Warn("resubscribe", zap.Error(err))
			} else {
				l.log.Warn("order book checksum failed, resubscribed")
			}
		}
		return models.Account{}, nil, unhealthy("order book checksum invalid")
	}

	acc, err := l.Account.Account()
	if err != nil {
		return models.Account{}, nil, &CycleError{Kind: KindUnhealthy, Err: err}
	}
	if age := now.Sub(acc.UpdatedAt); age > l.cfg.AccountMaxAge {
		return models.Account{}, nil, unhealthy("account stale for %s", age.Truncate(time.Second))
	}

	positions, err := l.Account.Positions()
	if err != nil {
		return models.Account{}, nil, &CycleError{Kind: KindUnhealthy, Err: err}
	}
	return acc, positions, nil
}

func (l *Loop) measure(ctx context.Context, acc models.Account, positions []models.Position) error {
	snap, err := l.Risk.Snapshot(ctx, acc, positions)
	if err != nil {
		return classify(err, "risk snapshot")
	}
	return classify(l.Measure.Consume(snap), "risk measurement")
}

func (l *Loop) sync(ctx context.Context) error {
	report, err := l.Tracker.Sync(l.Orders)
	l.Journal.RecordSync(ctx, report)
	return classify(err, "order sync")
}

// watchdog marks the process stalled when no cycle completed within the window.
func (l *Loop) watchdog(ctx context.Context) {
	if l.cfg.Watchdog <= 0 {
		return
	}
	started := l.now()
	t := time.NewTicker(l.cfg.Watchdog / 4)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.checkStalled(started)
		}
	}
}

func (l *Loop) checkStalled(started time.Time) bool {
	last := l.State.LastCycle()
	if last.IsZero() {
		last = started
	}
	if l.now().Sub(last) <= l.cfg.Watchdog {
		return false
	}
	if !l.State.Stalled() {
		l.State.SetStalled(true)
		l.log.Error("no cycle completed", zap.Time("lastCycle", last), zap.Duration("window", l.cfg.Watchdog))
		l.Notifier.Sendf("market maker stalled, no cycle since %s", last.Format(time.RFC3339))
	}
	return true
}
