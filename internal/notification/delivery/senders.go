package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"consular/pkg/platform/circuit"
)

// LogSender writes messages to the log. It is the default when no provider
// webhook is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to string, m Message) error {
	s.logger.InfoContext(ctx, "notification delivered",
		"channel", m.Channel,
		"to", to,
		"type", m.Type,
		"notification_id", m.NotificationID,
	)
	return nil
}

// WebhookSender posts messages as JSON to an email or SMS provider gateway.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Ref     string `json:"reference"`
}

func (s *WebhookSender) Send(ctx context.Context, to string, m Message) error {
	body, err := json.Marshal(webhookPayload{
		To:      to,
		Channel: string(m.Channel),
		Subject: m.Title,
		Body:    m.Body,
		Ref:     m.NotificationID.String(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider answered %d", resp.StatusCode)
	}
	return nil
}

// GuardedSender sends through primary until its circuit opens, then hands
// messages to fallback while it keeps trying primary.
type GuardedSender struct {
	primary  Sender
	fallback Sender
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewGuardedSender(primary, fallback Sender, breaker *circuit.Breaker, logger *slog.Logger) *GuardedSender {
	return &GuardedSender{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (s *GuardedSender) Send(ctx context.Context, to string, m Message) error {
	err := s.primary.Send(ctx, to, m)
	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "delivery circuit closed", "circuit", s.breaker.Name())
		}
		return nil
	}

	useFallback, change := s.breaker.RecordFailure()
	if change.Opened {
		s.logger.WarnContext(ctx, "delivery circuit opened",
			"circuit", s.breaker.Name(),
			"error", err,
		)
	}
	if !useFallback {
		return err
	}
	return s.fallback.Send(ctx, to, m)
}
