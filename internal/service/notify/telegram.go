package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	applogger "SignalFuse/pkg/logger"
)

// TelegramConfig holds bot credentials and endpoint.
type TelegramConfig struct {
	BaseURL string
	Token   string
	ChatID  string
	Timeout time.Duration
}

// Telegram delivers Markdown messages through the Bot API sendMessage call.
type Telegram struct {
	cfg  TelegramConfig
	http *resty.Client
	l    *applogger.Logger
}

func NewTelegram(cfg TelegramConfig, l *applogger.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &Telegram{
		cfg:  cfg,
		http: resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.Timeout),
		l:    l,
	}
}

func (t *Telegram) Notify(ctx context.Context, msg string) error {
	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    t.cfg.ChatID,
			"text":       msg,
			"parse_mode": "Markdown",
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + t.cfg.Token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), out.Description)
	}
	t.l.Debug("telegram message sent", applogger.Int("length", len(msg)))
	return nil
}
