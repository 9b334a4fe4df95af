package config

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var ErrInvalidParams = errors.New("invalid strategy params")

// StrategyParams are the knobs re-read from the params file every cycle.
type StrategyParams struct {
	StepPct       float64 `mapstructure:"step_pct"`
	OrdersPerSide int     `mapstructure:"num_of_order_each_side"`
	SizeMultiple  float64 `mapstructure:"single_size_as_multiple_of_lot_size"`
	MaxNetBuy     float64 `mapstructure:"maximum_net_buy"`
	MaxNetSell    float64 `mapstructure:"maximum_net_sell"`
}

func (p StrategyParams) Validate() error {
	switch {
	case p.StepPct <= 0:
		return errors.Wrap(ErrInvalidParams, "step_pct must be positive")
	case p.OrdersPerSide < 0:
		return errors.Wrap(ErrInvalidParams, "num_of_order_each_side must not be negative")
	case p.SizeMultiple <= 0:
		return errors.Wrap(ErrInvalidParams, "single_size_as_multiple_of_lot_size must be positive")
	case p.MaxNetBuy <= 0 || p.MaxNetSell <= 0:
		return errors.Wrap(ErrInvalidParams, "maximum_net_buy and maximum_net_sell must be positive")
	}
	return nil
}

// ParamsLoader reloads StrategyParams from a yaml file. A bad reload keeps the last good params.
type ParamsLoader struct {
	path string

	mu      sync.RWMutex
	current StrategyParams
	loaded  bool
}

func NewParamsLoader(cfg *Config) *ParamsLoader {
	return &ParamsLoader{path: cfg.Trading.ParamsFile}
}

// Load re-reads the file and returns the params in effect afterwards.
func (l *ParamsLoader) Load() (StrategyParams, error) {
	engine := viper.New()
	engine.SetConfigFile(l.path)
	engine.SetConfigType("yaml")

	var (
		p   StrategyParams
		err error
	)
	if err = engine.ReadInConfig(); err != nil {
		err = errors.Wrapf(err, "read params %s", l.path)
	} else if err = engine.Unmarshal(&p); err != nil {
		err = errors.Wrap(err, "unmarshal params")
	} else {
		err = p.Validate()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		if !l.loaded {
			return StrategyParams{}, err
		}
		return l.current, err
	}
	l.current = p
	l.loaded = true
	return p, nil
}

// Current returns the last successfully loaded params.
func (l *ParamsLoader) Current() (StrategyParams, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current, l.loaded
}
