package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockdata/internal/marketdata"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "VNDIRECT", cfg.Manager.DefaultSource)
	require.Equal(t, 60*time.Second, cfg.Manager.HistoricalTTL)
	require.Equal(t, 10*time.Second, cfg.Manager.CurrentTTL)
	require.Len(t, cfg.Providers, 5)
	require.Equal(t, 720*time.Hour, cfg.Watch.HealthRetention)

	vietcap, ok := cfg.Provider(marketdata.ProviderVietcap)
	require.True(t, ok)
	require.False(t, vietcap.Enabled)

	gold, ok := cfg.Provider("vngold")
	require.True(t, ok)
	require.Equal(t, 90, gold.MaxSpanDays)
	require.Equal(t, 30, gold.RateLimit.RequestsPerMinute)

	require.Equal(t, []marketdata.ProviderName{"SSI", "TCBS", "VIETCAP", "VNDIRECT", "VNGOLD"}, cfg.ProviderNames())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STOCKDATA_MANAGER_DEFAULT_SOURCE", "SSI")
	t.Setenv("STOCKDATA_PROVIDERS_TCBS_ENABLED", "false")
	t.Setenv("STOCKDATA_WATCH_INTERVAL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "SSI", cfg.Manager.DefaultSource)
	require.Equal(t, 90*time.Second, cfg.Watch.Interval)

	tcbs, _ := cfg.Provider(marketdata.ProviderTCBS)
	require.False(t, tcbs.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
manager:
  default_source: tcbs
  fallback_order: [tcbs, ssi]
  historical_ttl: -1s
providers:
  ssi:
    priority: 9
export:
  max_data_points: 500
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, []marketdata.ProviderName{"TCBS", "SSI"}, cfg.FallbackOrder())
	require.Equal(t, -time.Second, cfg.Manager.HistoricalTTL)
	require.Equal(t, 500, cfg.ResolveMaxPoints(0))
	require.Equal(t, 42, cfg.ResolveMaxPoints(42))

	ssi, _ := cfg.Provider(marketdata.ProviderSSI)
	require.Equal(t, 9, ssi.Priority)
	require.Equal(t, "https://iboard-api.ssi.com.vn", ssi.BaseURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown provider":   "providers:\n  binance:\n    enabled: true\n",
		"bad resolution":     "watch:\n  resolution: 5m\n",
		"default source":     "manager:\n  default_source: nope\n",
		"fallback entry":     "manager:\n  fallback_order: [vndirect, nope]\n",
		"negative rpm":       "providers:\n  ssi:\n    rate_limit:\n      requests_per_minute: -1\n",
		"negative burst":     "providers:\n  ssi:\n    rate_limit:\n      burst_limit: -1\n",
		"negative retention": "watch:\n  health_retention: -1h\n",
		"telegram no token":  "alerting:\n  telegram:\n    enabled: true\n    chat_id: \"1\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
