package runner

import (
	"context"

	"market_maker/internal/models"
	okxrest "market_maker/internal/modules/okx_client/service"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Market is the resolved trading target: what is traded and how orders are margined.
type Market struct {
	Level      models.AccountLevel
	Instrument models.Instrument
	TdMode     models.TdMode
}

type AccountInfo interface {
	AccountLevel(ctx context.Context) (models.AccountLevel, error)
	Instrument(ctx context.Context, instID string, instType models.InstType) (models.Instrument, error)
}

// ResolveMarket reads the account level, derives the traded instrument type
// and td mode, and fetches the instrument.
func ResolveMarket(ctx context.Context, venue AccountInfo, instID string, setting models.TdMode, log *zap.Logger) (Market, error) {
	level, err := venue.AccountLevel(ctx)
	if err != nil {
		return Market{}, errors.Wrap(err, "account level")
	}

	instType, err := okxrest.TradingInstType(instID, level, setting)
	if err != nil {
		return Market{}, errors.Wrapf(err, "inst type of %s", instID)
	}

	inst, err := venue.Instrument(ctx, instID, instType)
	if err != nil {
		return Market{}, errors.Wrapf(err, "instrument %s", instID)
	}

	tdMode, err := okxrest.DecideTdMode(level, instType, setting)
	if err != nil {
		return Market{}, err
	}

	log.Info("market resolved",
		zap.Int("acctLv", int(level)),
		zap.String("instId", inst.InstID),
		zap.String("instType", string(inst.Type)),
		zap.String("tdMode", string(tdMode)),
		zap.String("tickSz", inst.TickSz.String()),
		zap.String("lotSz", inst.LotSz.String()),
		zap.String("minSz", inst.MinSz.String()),
	)
	return Market{Level: level, Instrument: inst, TdMode: tdMode}, nil
}
