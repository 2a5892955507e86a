package fetcher

import (
	"fmt"

	"github.com/rs/zerolog"

	"stockdata/internal/config"
	"stockdata/internal/marketdata"
)

// NewAdapters builds one adapter per configured provider, disabled ones
// included, in provider-name order.
func NewAdapters(cfg *config.Config, logger zerolog.Logger) ([]Adapter, error) {
	opts := Options{
		UserAgent:        cfg.HTTP.UserAgent,
		BatchConcurrency: cfg.Manager.BatchConcurrency,
	}

	adapters := make([]Adapter, 0, len(cfg.Providers))
	for _, name := range cfg.ProviderNames() {
		settings, _ := cfg.Provider(name)
		pc := settings.ProviderConfig(name)

		switch name {
		case marketdata.ProviderVNDirect:
			adapters = append(adapters, NewVNDirect(pc, opts, logger))
		case marketdata.ProviderSSI:
			adapters = append(adapters, NewSSI(pc, SSIPaging{PageSize: settings.PageSize, MaxPages: settings.MaxPages}, opts, logger))
		case marketdata.ProviderVNGold:
			adapters = append(adapters, NewVNGold(pc, GoldOptions{
				MaxSpanDays: settings.MaxSpanDays,
				ChunkDelay:  settings.ChunkDelay,
				PriceID:     settings.GoldPriceID,
			}, opts, logger))
		case marketdata.ProviderTCBS:
			adapters = append(adapters, NewTCBS(pc, settings.CountBack, opts, logger))
		case marketdata.ProviderVietcap:
			adapters = append(adapters, NewVietcap(pc, settings.CountBack, opts, logger))
		default:
			return nil, fmt.Errorf("unsupported provider %q", name)
		}
	}
	return adapters, nil
}

var (
	_ Adapter = (*VNDirect)(nil)
	_ Adapter = (*SSI)(nil)
	_ Adapter = (*VNGold)(nil)
	_ Adapter = (*TCBS)(nil)
	_ Adapter = (*Vietcap)(nil)
)
