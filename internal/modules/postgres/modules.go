package postgres

import (
	"context"
	"fmt"

	"market_maker/internal/journal"
	"market_maker/internal/modules/config"
	"market_maker/pkg/db"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewJournal connects to Postgres when db_dsn is set. Without a DSN the
// journal is a no-op and nothing is persisted.
func NewJournal(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (journal.Journal, error) {
	if cfg.DB == "" {
		log.Info("journal disabled, db_dsn is empty")
		return journal.Nop{}, nil
	}

	ctx := context.Background()
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:      cfg.DB,
		MaxConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}
	if err = poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	tx := db.NewPgTxManager(poolMaster)
	j := journal.NewPostgres(tx, cfg.Trading.InstID, log)
	if err = j.EnsureSchema(ctx); err != nil {
		tx.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	return j, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(NewJournal),
	)
}
