// Package alert delivers operational alerts over a webhook or an AMQP exchange.
package alert

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/config"
)

// TypeQualityFailed is sent when a quality run returns a FAILED verdict.
const TypeQualityFailed = "quality_failed"

// Alert represents a single alert to be sent.
type Alert struct {
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Subject   string         `json:"subject"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier sends one alert.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Nop drops every alert.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Alert) error { return nil }

// Multi fans an alert out to every notifier. All are attempted; the
// returned error joins the failures.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers enabled in cfg. With no transport
// configured alerts are logged and dropped.
func FromConfig(cfg config.AlertConfig) Notifier {
	var m Multi
	if cfg.WebhookURL != "" {
		m = append(m, NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.AMQPURL != "" {
		m = append(m, NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey))
	}
	if len(m) == 0 {
		zap.L().Warn("alert: no transport configured, alerts will be dropped")
		return Nop{}
	}
	return m
}
