package okx_websocket

import (
	"context"

	"market_maker/internal/modules/config"
	healthsvc "market_maker/internal/modules/health/service"
	okxrest "market_maker/internal/modules/okx_client/service"
	"market_maker/internal/modules/okx_websocket/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module runs the public book stream and the private orders/account stream.
func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(
			func(cfg *config.Config) *service.OrderBook {
				return service.NewOrderBook(cfg.Trading.InstID)
			},
			service.NewOrderCache,
			service.NewAccountCache,
			func(
				cfg *config.Config,
				log *zap.Logger,
				book *service.OrderBook,
				orders *service.OrderCache,
				account *service.AccountCache,
				prices *okxrest.PriceBook,
				state *healthsvc.State,
			) *service.Client {
				return service.NewClient(cfg, log, book, orders, account, prices, state)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						c.Run(ctx)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
