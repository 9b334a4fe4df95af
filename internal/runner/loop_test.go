package runner

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/models"
	"market_maker/internal/modules/config"
	healthsvc "market_maker/internal/modules/health/service"
	"market_maker/internal/orders"
	"market_maker/internal/risk"
	"market_maker/internal/strategy"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeVenue struct {
	events []models.MaintenanceEvent
	err    error
}

func (v *fakeVenue) Maintenance(context.Context) ([]models.MaintenanceEvent, error) {
	return v.events, v.err
}

type fakeParams struct {
	p      config.StrategyParams
	err    error
	loaded bool
}

func (f *fakeParams) Load() (config.StrategyParams, error) {
	if f.err != nil {
		return f.p, f.err
	}
	f.loaded = true
	return f.p, nil
}

func (f *fakeParams) Current() (config.StrategyParams, bool) { return f.p, f.loaded }

type fakeBook struct {
	updated time.Time
	invalid bool
	resubs  int
}

func (b *fakeBook) BestBid(int) (models.BookLevel, bool) {
	return models.BookLevel{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}, true
}

func (b *fakeBook) BestAsk(int) (models.BookLevel, bool) {
	return models.BookLevel{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}, true
}

func (b *fakeBook) LastUpdate() time.Time { return b.updated }
func (b *fakeBook) Valid() bool           { return !b.invalid }

func (b *fakeBook) Resubscribe(context.Context) error {
	b.resubs++
	return nil
}

type fakeView struct{}

func (fakeView) Order(string) (models.VenueOrder, bool) { return models.VenueOrder{}, false }
func (fakeView) Remove(...string)                       {}

type fakeAccount struct {
	acc models.Account
	err error
}

func (a *fakeAccount) Account() (models.Account, error)      { return a.acc, a.err }
func (a *fakeAccount) Positions() ([]models.Position, error) { return nil, nil }

type fakeRisk struct{}

func (fakeRisk) Snapshot(context.Context, models.Account, []models.Position) (risk.Snapshot, error) {
	return risk.Snapshot{At: t0}, nil
}

type fakeMeasure struct {
	err      error
	consumed int
}

func (m *fakeMeasure) Consume(risk.Snapshot) error {
	m.consumed++
	return m.err
}
func (m *fakeMeasure) NetFilled() decimal.Decimal { return decimal.Zero }
func (m *fakeMeasure) Summary() risk.Summary       { return risk.Summary{At: t0} }
func (m *fakeMeasure) LogSummary()                 {}

type fakeTracker struct {
	err error
}

func (f *fakeTracker) Sync(orders.OrderView) (orders.SyncReport, error) {
	return orders.SyncReport{}, f.err
}
func (f *fakeTracker) Snapshot() []models.StrategyOrder { return nil }

type fakeExec struct {
	executed   []models.Actions
	cancelAlls int
	err        error
}

func (e *fakeExec) Execute(_ context.Context, a models.Actions) error {
	e.executed = append(e.executed, a)
	return e.err
}

func (e *fakeExec) CancelAll(context.Context) error {
	e.cancelAlls++
	return nil
}

type fakeStrategy struct {
	calls int
	panic bool
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) Decide(context.Context, strategy.State) (models.Actions, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return models.Actions{Place: []models.PlaceRequest{{ClientID: "a"}}}, nil
}

type fakeNotifier struct{ msgs []string }

func (n *fakeNotifier) Send(msg string) { n.msgs = append(n.msgs, msg) }
func (n *fakeNotifier) Sendf(format string, args ...any) {
	n.msgs = append(n.msgs, format)
}

type harness struct {
	loop     *Loop
	venue    *fakeVenue
	params   *fakeParams
	book     *fakeBook
	account  *fakeAccount
	measure  *fakeMeasure
	tracker  *fakeTracker
	exec     *fakeExec
	strategy *fakeStrategy
	notifier *fakeNotifier
	state    *healthsvc.State
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		venue:    &fakeVenue{},
		params:   &fakeParams{p: config.StrategyParams{StepPct: 0.001, OrdersPerSide: 2, SizeMultiple: 1, MaxNetBuy: 1, MaxNetSell: 1}},
		book:     &fakeBook{updated: t0.Add(-time.Second)},
		account:  &fakeAccount{acc: models.Account{UpdatedAt: t0.Add(-time.Second)}},
		measure:  &fakeMeasure{},
		tracker:  &fakeTracker{},
		exec:     &fakeExec{},
		strategy: &fakeStrategy{},
		notifier: &fakeNotifier{},
		state:    healthsvc.NewState(),
	}
	h.loop = NewLoop(Deps{
		Venue:    h.venue,
		Params:   h.params,
		Book:     h.book,
		Orders:   fakeView{},
		Account:  h.account,
		Risk:     fakeRisk{},
		Measure:  h.measure,
		Tracker:  h.tracker,
		Gateway:  h.exec,
		Strategy: h.strategy,
		Notifier: h.notifier,
		State:    h.state,
	}, Market{Instrument: models.Instrument{InstID: "BTC-USDT", Type: models.InstSpot}, TdMode: models.TdCash}, LoopConfig{
		CycleSleep:          time.Second,
		UnhealthyBackoff:    5 * time.Second,
		ErrorBackoff:        20 * time.Second,
		CycleTimeout:        time.Minute,
		BookMaxAge:          time.Minute,
		AccountMaxAge:       time.Minute,
		ResubscribeCooldown: 30 * time.Second,
		Watchdog:            2 * time.Minute,
		RiskSummaryEvery:    2,
	}, zap.NewNop())
	h.loop.now = func() time.Time { return t0 }
	h.loop.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func TestStepHealthyCycle(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Len(t, h.exec.executed, 1)
	assert.Equal(t, 0, h.exec.cancelAlls)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps)
	assert.True(t, h.state.Ready())
	assert.Equal(t, int64(1), h.state.Cycles())
	assert.Equal(t, 1, h.measure.consumed)
}

func TestStaleBookIsUnhealthyWithNoActions(t *testing.T) {
	h := newHarness(t)
	h.book.updated = t0.Add(-2 * time.Minute)

	err := h.loop.cycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUnhealthy, KindOf(err))

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Empty(t, h.exec.executed)
	assert.Equal(t, 0, h.exec.cancelAlls)
	assert.Equal(t, 0, h.strategy.calls)
	assert.Equal(t, []time.Duration{5 * time.Second}, h.sleeps)
	assert.False(t, h.state.Ready())
}

func TestInvalidBookResubscribesWithCooldown(t *testing.T) {
	h := newHarness(t)
	h.book.invalid = true

	for i := 0; i < 3; i++ {
		err := h.loop.cycle(context.Background())
		assert.Equal(t, KindUnhealthy, KindOf(err))
	}
	assert.Equal(t, 1, h.book.resubs)

	h.loop.now = func() time.Time { return t0.Add(31 * time.Second) }
	h.book.updated = t0.Add(30 * time.Second)
	_ = h.loop.cycle(context.Background())
	assert.Equal(t, 2, h.book.resubs)
}

func TestStaleAccountIsUnhealthy(t *testing.T) {
	h := newHarness(t)
	h.account.acc.UpdatedAt = t0.Add(-5 * time.Minute)

	err := h.loop.cycle(context.Background())
	assert.Equal(t, KindUnhealthy, KindOf(err))
	assert.Equal(t, 0, h.measure.consumed)
}

func TestMaintenanceCancelsAll(t *testing.T) {
	h := newHarness(t)
	h.venue.events = []models.MaintenanceEvent{{Title: "upgrade", ServiceType: "5"}}

	require.NoError(t, h.loop.Step(context.Background()))
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, 2, h.exec.cancelAlls)
	assert.Empty(t, h.exec.executed)
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second}, h.sleeps)
	assert.Len(t, h.notifier.msgs, 1, "maintenance is announced once")

	h.venue.events = nil
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Len(t, h.exec.executed, 1)
	assert.Len(t, h.notifier.msgs, 2)
}

func TestRetryableErrorCancelsAll(t *testing.T) {
	h := newHarness(t)
	h.tracker.err = errors.Wrap(orders.ErrLostUpdate, "orders [a]")

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, 1, h.exec.cancelAlls)
	assert.Equal(t, 0, h.strategy.calls)
	assert.Equal(t, []time.Duration{20 * time.Second}, h.sleeps)
	assert.Contains(t, h.state.LastError(), "venue filled size went backwards")
}

func TestMissingMarkIsFatal(t *testing.T) {
	h := newHarness(t)
	h.measure.err = errors.Wrap(risk.ErrNoMarkPrice, "BTC-USDT-SWAP")

	err := h.loop.Step(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.True(t, errors.Is(err, risk.ErrNoMarkPrice))
	assert.Equal(t, 1, h.exec.cancelAlls)
	assert.Len(t, h.notifier.msgs, 1)
	assert.Empty(t, h.sleeps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Error(t, h.loop.Run(ctx))
}

func TestParamsErrorKeepsLastGood(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.loop.Step(context.Background()))

	h.params.err = errors.Wrap(config.ErrInvalidParams, "step_pct must be positive")
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Len(t, h.exec.executed, 2)
	assert.Equal(t, 0, h.exec.cancelAlls)
}

func TestParamsMissingOnFirstLoadIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.params.err = errors.New("open params.yaml")

	err := h.loop.cycle(context.Background())
	assert.Equal(t, KindRetryable, KindOf(err))
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.strategy.panic = true

	err := h.loop.cycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindRetryable, KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestExecuteErrorIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.exec.err = errors.New("connection reset")

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, 1, h.exec.cancelAlls)
}

func TestStepOnShutdownSkipsEmergencyCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.venue.err = errors.Wrap(context.Canceled, "system status")

	require.NoError(t, h.loop.Step(ctx))
	assert.Equal(t, 0, h.exec.cancelAlls)
	assert.Empty(t, h.notifier.msgs)
	assert.Empty(t, h.sleeps)
	assert.Empty(t, h.exec.executed)
}

func TestWatchdogFlagsStall(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.loop.checkStalled(t0.Add(-time.Minute)))
	assert.True(t, h.loop.checkStalled(t0.Add(-3*time.Minute)))
	assert.True(t, h.state.Stalled())
	assert.True(t, h.loop.checkStalled(t0.Add(-3*time.Minute)))
	assert.Len(t, h.notifier.msgs, 1)

	h.state.TouchCycle(t0)
	assert.False(t, h.state.Stalled())
	assert.False(t, h.loop.checkStalled(t0.Add(-3*time.Minute)))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil, "x"))

	tagged := &CycleError{Kind: KindMaintenance, Err: errors.New("m")}
	assert.Same(t, tagged, classify(tagged, "x"))

	assert.Equal(t, KindFatal, KindOf(classify(errors.Wrap(risk.ErrNoMarkPrice, "p"), "x")))
	assert.Equal(t, KindRetryable, KindOf(classify(errors.New("io"), "x")))
	assert.Equal(t, "unhealthy: stale", unhealthy("stale").Error())
}
