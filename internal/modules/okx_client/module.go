package okx_client

import (
	"context"

	"market_maker/internal/modules/config"
	"market_maker/internal/modules/okx_client/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the signed REST client and the background price book.
func Module() fx.Option {
	return fx.Module("okx_client",
		fx.Provide(
			service.NewClient,
			func(c *service.Client, cfg *config.Config, log *zap.Logger) *service.PriceBook {
				return service.NewPriceBook(c, cfg.Trading.RiskFree, log)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, p *service.PriceBook, cfg *config.Config) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go p.Run(ctx, cfg.Loop.PricesRefresh)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
