package journal

import (
	"context"
	"fmt"

	"market_maker/internal/orders"
	"market_maker/internal/risk"
	"market_maker/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_events (
	id         BIGSERIAL PRIMARY KEY,
	at         TIMESTAMPTZ NOT NULL,
	inst_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	cl_ord_id  TEXT NOT NULL,
	ord_id     TEXT NOT NULL DEFAULT '',
	side       TEXT NOT NULL DEFAULT '',
	px         NUMERIC,
	sz         NUMERIC,
	code       TEXT NOT NULL DEFAULT '',
	msg        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS order_events_cl_ord_id_idx ON order_events (cl_ord_id);

CREATE TABLE IF NOT EXISTS risk_summaries (
	id         BIGSERIAL PRIMARY KEY,
	at         TIMESTAMPTZ NOT NULL,
	inst_id    TEXT NOT NULL,
	pnl_usd    DOUBLE PRECISION NOT NULL,
	details    JSONB NOT NULL
);`

const insertEvent = `INSERT INTO order_events (at, inst_id, action, cl_ord_id, ord_id, side, px, sz, code, msg)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const insertRisk = `INSERT INTO risk_summaries (at, inst_id, pnl_usd, details) VALUES ($1, $2, $3, $4)`

// Journal is the write-only audit trail of order actions, fills and risk.
type Journal interface {
	RecordOrderEvents(ctx context.Context, events []orders.Event)
	RecordSync(ctx context.Context, report orders.SyncReport)
	RecordRisk(ctx context.Context, s risk.Summary)
}

// Postgres writes the journal through the shared transaction manager.
// Failures are logged and never reach the trading loop.
type Postgres struct {
	db     db.TxManager
	instID string
	log    *zap.Logger
}

func NewPostgres(tx db.TxManager, instID string, log *zap.Logger) *Postgres {
	return &Postgres{db: tx, instID: instID, log: log.Named("journal")}
}

func (p *Postgres) EnsureSchema(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("journal.EnsureSchema: %w", err)
		}
	}()
	_, err = p.db.Conn().Exec(ctx, schema)
	return err
}

func (p *Postgres) RecordOrderEvents(ctx context.Context, events []orders.Event) {
	if len(events) == 0 {
		return
	}
	err := p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, ev := range events {
			b.Queue(insertEvent, eventArgs(p.instID, ev)...)
		}
		return tx.SendBatch(ctxTx, b).Close()
	})
	if err != nil {
		p.log.Warn("record order events", zap.Int("events", len(events)), zap.Error(err))
	}
}

func (p *Postgres) RecordSync(ctx context.Context, report orders.SyncReport) {
	p.RecordOrderEvents(ctx, syncEvents(report))
}

func (p *Postgres) RecordRisk(ctx context.Context, s risk.Summary) {
	details, err := sonic.Marshal(s)
	if err != nil {
		p.log.Warn("encode risk summary", zap.Error(err))
		return
	}
	if _, err = p.db.Conn().Exec(ctx, insertRisk, s.At, s.InstID, s.PnLUSD, details); err != nil {
		p.log.Warn("record risk summary", zap.Error(err))
	}
}

func eventArgs(instID string, ev orders.Event) []any {
	var px, sz any
	if !ev.Price.IsZero() {
		px = ev.Price.String()
	}
	if !ev.Size.IsZero() {
		sz = ev.Size.String()
	}
	return []any{ev.At, instID, ev.Action, ev.ClientID, ev.OrderID, string(ev.Side), px, sz, ev.Code, ev.Msg}
}

func syncEvents(report orders.SyncReport) []orders.Event {
	events := make([]orders.Event, 0, len(report.Fills)+len(report.Removed))
	for _, f := range report.Fills {
		events = append(events, orders.Event{At: f.At, Action: "fill", ClientID: f.ClientID, Side: f.Side, Price: f.AvgPx, Size: f.Qty})
	}
	for _, o := range report.Removed {
		events = append(events, orders.Event{
			At: report.At, Action: "removed", ClientID: o.ClientID, OrderID: o.OrderID, Side: o.Side,
			Price: o.Price, Size: o.FilledSize, Msg: string(o.Status),
		})
	}
	return events
}

// Nop is used when no database is configured.
type Nop struct{}

func (Nop) RecordOrderEvents(context.Context, []orders.Event) {}
func (Nop) RecordSync(context.Context, orders.SyncReport)     {}
func (Nop) RecordRisk(context.Context, risk.Summary)          {}
