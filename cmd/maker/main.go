package main

import (
	"context"
	"log"

	"market_maker/internal/modules/config"
	"market_maker/internal/modules/health"
	"market_maker/internal/modules/okx_client"
	"market_maker/internal/modules/okx_websocket"
	"market_maker/internal/modules/postgres"
	"market_maker/internal/notify"
	"market_maker/internal/runner"
	"market_maker/internal/strategy"
	"market_maker/pkg/logger"
	"market_maker/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const serviceName = "okx-market-maker"

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(serviceName)
	return logger.New(logger.Config{Level: cfg.Log.Level, File: cfg.Log.File})
}

func initTracing(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
	tracing.SetServiceName(serviceName)
	_, closer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}
	if cfg.Tracing.Enabled {
		log.Info("tracing enabled", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closer()
		},
	})
	return nil
}

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		fx.Provide(newLogger),
		fx.Invoke(initTracing),
		postgres.Module(),
		okx_client.Module(),
		okx_websocket.Module(),
		health.Module(),
		notify.Module(),
		strategy.Module(),
		runner.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}
