// Package notify delivers alerts out of band. The engine decides whether to
// send; this package only knows how.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Dispatcher sends one alert to one user.
type Dispatcher interface {
	Send(ctx context.Context, userID string, alertType domain.AlertType, alert domain.Alert) error
}

// Config configures the webhook dispatcher.
type Config struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Webhook posts alerts as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook dispatcher.
func NewWebhook(cfg Config, client *http.Client) *Webhook {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Webhook{url: cfg.WebhookURL, client: client}
}

type webhookPayload struct {
	UserID    string           `json:"user_id"`
	AlertType domain.AlertType `json:"alert_type"`
	Alert     domain.Alert     `json:"alert"`
}

func (w *Webhook) Send(ctx context.Context, userID string, alertType domain.AlertType, alert domain.Alert) error {
	body, err := json.Marshal(webhookPayload{UserID: userID, AlertType: alertType, Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Log writes alerts to the logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log dispatcher.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, userID string, alertType domain.AlertType, alert domain.Alert) error {
	l.logger.WarnContext(ctx, "Alert triggered",
		"user", userID,
		"provider", alert.Provider,
		"alert_type", alertType,
		"severity", alert.Severity,
		"current_value", alert.CurrentValue,
		"threshold", alert.Threshold,
	)
	return nil
}

// Multi fans an alert out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Send(ctx context.Context, userID string, alertType domain.AlertType, alert domain.Alert) error {
	var errs []error
	for _, d := range m {
		if err := d.Send(ctx, userID, alertType, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
