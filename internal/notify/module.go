package notify

import (
	"context"

	"market_maker/internal/modules/config"
	healthsvc "market_maker/internal/modules/health/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New picks Telegram when a token and chat are configured and falls back to the log.
func New(cfg *config.Config, state *healthsvc.State, log *zap.Logger) Notifier {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return NewLog(log)
	}
	tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, state, log)
	if err != nil {
		log.Error("telegram disabled", zap.Error(err))
		return NewLog(log)
	}
	return tg
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(New),
		fx.Invoke(func(lc fx.Lifecycle, n Notifier) {
			tg, ok := n.(*Telegram)
			if !ok {
				return
			}
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					tg.Start(ctx)
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
