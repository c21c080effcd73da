package notify

//go:generate mockgen -source=sender.go -destination=mock/sender_mock.go -package=mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MrEthical07/authbroker/internal/logger"
)

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. Useful for
// development, where the log is the mailbox.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	ev := s.log.Info().
		Str("kind", string(msg.Kind)).
		Str("to", msg.To).
		Str("user_id", msg.UserID)
	for k, v := range msg.Data {
		ev = ev.Str("data_"+k, v)
	}
	ev.Msg("notification")
	return nil
}

// WebhookConfig configures WebhookSender.
type WebhookConfig struct {
	URL       string        `env:"URL" toml:"url"`
	AuthToken string        `env:"AUTH_TOKEN" toml:"-"`
	Timeout   time.Duration `env:"TIMEOUT" toml:"timeout"`
}

// WebhookSender POSTs each message as JSON to a mail relay.
type WebhookSender struct {
	client *resty.Client
	url    string
}

func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cli := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		cli.SetAuthToken(cfg.AuthToken)
	}
	return &WebhookSender{client: cli, url: strings.TrimRight(cfg.URL, "/")}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500 && code != 429:
		return fmt.Errorf("%w: webhook returned %d", ErrPermanent, code)
	default:
		return fmt.Errorf("webhook returned %d", code)
	}
}
