package domain

import "time"

// AlertSeverity grades operator alerts.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is a persisted operator notification. RequiresAction flags alerts
// where a position needs manual intervention; DedupeKey suppresses repeat
// alerts for the same underlying condition.
type Alert struct {
	ID             string
	Severity       AlertSeverity
	Title          string
	Message        string
	Data           map[string]any
	RequiresAction bool
	DedupeKey      string
	CreatedAt      time.Time
}
