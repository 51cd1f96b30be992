// Package notify is the boundary to the user-facing notification system.
// Channel fan-out (email, push, in-app) is owned by an external collaborator;
// this package only defines the event contract and a log-backed default.
package notify

import (
	"context"
	"log/slog"

	"github.com/fintrack/bank-sync/internal/models"
)

// Event describes one connection needing user attention.
type Event struct {
	OwnerUID        string
	ConnectionID    string
	InstitutionName string
	Status          models.ConnectionStatus
	// Escalation is how many notifications (including this one) have been
	// sent for the current unhealthy streak.
	Escalation int
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier emits notification events to the log. Stands in wherever the
// real delivery pipeline is not wired.
type LogNotifier struct {
	Log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{Log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.Log.Info("connection notification",
		"owner_uid", event.OwnerUID,
		"connection_id", event.ConnectionID,
		"institution", event.InstitutionName,
		"status", event.Status,
		"escalation", event.Escalation,
	)
	return nil
}
