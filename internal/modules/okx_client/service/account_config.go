package service

import (
	"context"
	"strconv"

	"market_maker/internal/models"

	"github.com/pkg/errors"
)

// AccountLevel reads acctLv from the account configuration.
func (c *Client) AccountLevel(ctx context.Context) (models.AccountLevel, error) {
	data, err := get[accountConfigData](ctx, c, "/api/v5/account/config", true)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.New("account config: empty data")
	}
	lv, err := strconv.Atoi(data[0].AcctLv)
	if err != nil {
		return 0, errors.Wrapf(err, "account config: acctLv %q", data[0].AcctLv)
	}
	if lv < int(models.AccountCash) || lv > int(models.AccountPortfolioMargin) {
		return 0, errors.Errorf("account config: unknown acctLv %d", lv)
	}
	return models.AccountLevel(lv), nil
}
