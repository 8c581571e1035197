package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/notify"
)

// AlertConfig holds alert persistence and dedupe parameters.
type AlertConfig struct {
	// DedupeWindow suppresses a repeated dedupe key within this span.
	DedupeWindow time.Duration
}

// AlertService persists operator alerts and fans them out to the configured
// notification channels. A duplicate dedupe key inside the window is dropped
// before any channel sees it, so a flapping order cannot storm the operator.
type AlertService struct {
	cfg      AlertConfig
	store    domain.AlertStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

var _ domain.AlertService = (*AlertService)(nil)

// NewAlertService creates an AlertService. The notifier is optional; pass nil
// to only persist alerts.
func NewAlertService(cfg AlertConfig, store domain.AlertStore, notifier *notify.Notifier, logger *slog.Logger) *AlertService {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = time.Hour
	}
	return &AlertService{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// CreateAlert stores the alert and notifies the operator. Deduplicated alerts
// return nil: from the caller's view the alert exists.
func (s *AlertService) CreateAlert(
	ctx context.Context,
	severity domain.AlertSeverity,
	title, message string,
	data map[string]any,
	requiresAction bool,
	dedupeKey string,
) error {
	alert := &domain.Alert{
		ID:             uuid.New().String(),
		Severity:       severity,
		Title:          title,
		Message:        message,
		Data:           data,
		RequiresAction: requiresAction,
		DedupeKey:      dedupeKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.Create(ctx, alert, s.cfg.DedupeWindow); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.logger.DebugContext(ctx, "alert deduplicated", slog.String("dedupe_key", dedupeKey))
			return nil
		}
		return fmt.Errorf("alert_service: store alert: %w", err)
	}

	s.logger.LogAttrs(ctx, severityLevel(severity), "alert created",
		slog.String("severity", string(severity)),
		slog.String("title", title),
		slog.Bool("requires_action", requiresAction),
		slog.String("dedupe_key", dedupeKey),
	)

	if s.notifier == nil {
		return nil
	}
	body := message
	if requiresAction {
		body += "\n\nManual intervention required."
	}
	if err := s.notifier.Notify(ctx, "alert_"+string(severity), title, body); err != nil {
		// Persisted alerts survive notification outages; do not fail the caller.
		s.logger.WarnContext(ctx, "alert notification failed", slog.String("error", err.Error()))
	}
	return nil
}

// ListRecent returns the latest stored alerts for status surfaces.
func (s *AlertService) ListRecent(ctx context.Context, limit int) ([]*domain.Alert, error) {
	alerts, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("alert_service: list recent: %w", err)
	}
	return alerts, nil
}

func severityLevel(sev domain.AlertSeverity) slog.Level {
	switch sev {
	case domain.AlertCritical:
		return slog.LevelError
	case domain.AlertWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
