package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"stockdata/internal/alerting"
	"stockdata/internal/marketdata"
)

// SimulateAlert 通过告警通道发送一次模拟的数据源状态变化。
func (a *App) SimulateAlert(ctx context.Context, provider marketdata.ProviderName, healthy bool, message string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	provider = marketdata.ProviderName(strings.ToUpper(strings.TrimSpace(string(provider))))
	settings, ok := a.Config.Provider(provider)
	if !ok {
		return errors.New("provider 未配置: " + string(provider))
	}

	note := alerting.Notification{
		ObservedAt:    time.Now().UTC(),
		Provider:      provider,
		DisplayName:   settings.DisplayName,
		Healthy:       healthy,
		Previous:      !healthy,
		DefaultSource: marketdata.ProviderName(strings.ToUpper(a.Config.Manager.DefaultSource)),
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "(simulated)",
	}
	if !healthy {
		note.Error = message
	}
	return notifier.Notify(ctx, note)
}
