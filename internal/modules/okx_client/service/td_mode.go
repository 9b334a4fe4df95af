package service

import (
	"market_maker/internal/models"

	"github.com/pkg/errors"
)

// DecideTdMode picks the order tdMode for an instrument type under the account level.
// setting is the configured preference (cash, cross or isolated).
func DecideTdMode(level models.AccountLevel, instType models.InstType, setting models.TdMode) (models.TdMode, error) {
	switch level {
	case models.AccountCash:
		if instType != models.InstSpot && instType != models.InstOption {
			return "", errors.Errorf("inst type %s cannot trade in a cash account", instType)
		}
		return models.TdCash, nil

	case models.AccountSingleCcyMargin:
		if instType == models.InstSpot {
			return models.TdCash, nil
		}
		if setting == models.TdCash && instType != models.InstMargin {
			return models.TdCross, nil
		}
		if setting == "" {
			return models.TdCross, nil
		}
		return setting, nil

	case models.AccountMultiCcyMargin, models.AccountPortfolioMargin:
		if setting == models.TdCash {
			return models.TdCross, nil
		}
		if instType == models.InstMargin {
			return models.TdIsolated, nil
		}
		if instType == models.InstSpot || setting == "" {
			return models.TdCross, nil
		}
		return setting, nil
	}
	return "", errors.Errorf("invalid account level %d", level)
}

// TradingInstType resolves the traded type of instID: a SPOT id is traded as MARGIN
// when the account level and tdMode setting imply borrowing.
func TradingInstType(instID string, level models.AccountLevel, setting models.TdMode) (models.InstType, error) {
	guessed, err := models.GuessInstType(instID)
	if err != nil {
		return "", err
	}
	if guessed != models.InstSpot {
		return guessed, nil
	}
	switch level {
	case models.AccountSingleCcyMargin:
		if setting == models.TdCash {
			return models.InstSpot, nil
		}
		return models.InstMargin, nil
	case models.AccountMultiCcyMargin, models.AccountPortfolioMargin:
		if setting == models.TdIsolated {
			return models.InstMargin, nil
		}
	}
	return models.InstSpot, nil
}
