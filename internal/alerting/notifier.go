package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stockdata/internal/marketdata"
)

// Notification 封装一次数据源健康状态变化。
type Notification struct {
	ObservedAt    time.Time
	Provider      marketdata.ProviderName
	DisplayName   string
	Healthy       bool
	Previous      bool
	Error         string
	DefaultSource marketdata.ProviderName
	Channels      []string
	AdditionalMsg string
}

// Recovered reports a down → up transition.
func (n Notification) Recovered() bool { return n.Healthy && !n.Previous }

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("provider", string(note.Provider)).
		Bool("healthy", note.Healthy).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds the "log" channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the transition at warn when the provider went down.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	event := n.logger.Warn()
	if note.Healthy {
		event = n.logger.Info()
	}
	event.Str("provider", string(note.Provider)).
		Bool("healthy", note.Healthy).
		Str("error", note.Error).
		Time("observed_at", note.ObservedAt).
		Msg(headline(note))
	return nil
}

// Multi fans a notification out to every channel and joins their errors.
type Multi []Notifier

// Notify delivers to all channels even when one fails.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func headline(note Notification) string {
	name := string(note.Provider)
	if note.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", note.Provider, note.DisplayName)
	}
	switch {
	case note.Recovered():
		return fmt.Sprintf("data source %s recovered", name)
	case note.Healthy:
		return fmt.Sprintf("data source %s healthy", name)
	default:
		return fmt.Sprintf("data source %s is DOWN", name)
	}
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[stockdata] ")
	builder.WriteString(headline(note))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", note.ObservedAt.UTC().Format(time.RFC3339)))
	if note.Error != "" {
		builder.WriteString(fmt.Sprintf("Last error: %s\n", note.Error))
	}
	if note.DefaultSource != "" {
		builder.WriteString(fmt.Sprintf("Default source: %s\n", note.DefaultSource))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
