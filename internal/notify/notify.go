// Package notify is the email-notification sink consumed by the Execution
// Supervisor and Office-Fallback Dispatcher. Email delivery
// itself is an external collaborator; this package only defines the
// interface the core calls against and a logging adapter good enough to run
// the engine without a real mail provider wired in.
package notify

import (
	"context"

	"routeplan/internal/domain"
	"routeplan/pkg/logger"
)

// Notifier sends best-effort delivery notifications. Every call is
// fire-and-forget from the caller's perspective: failures are logged by the
// implementation, never returned as a fatal error to the lifecycle
// transition that triggered them.
type Notifier interface {
	NotifyDelivered(ctx context.Context, parcel *domain.Parcel, driverRef string)
	NotifyOfficeFallback(ctx context.Context, parcel *domain.Parcel, office *domain.Office, driverRef string)
}

// LoggingNotifier is a Notifier that records the notification as a
// structured log line instead of calling a real mail provider. It stands in
// for the external email-notification service, kept out of process scope.
type LoggingNotifier struct{}

// New builds the logging Notifier.
func New() *LoggingNotifier {
	return &LoggingNotifier{}
}

func (n *LoggingNotifier) NotifyDelivered(_ context.Context, parcel *domain.Parcel, driverRef string) {
	logger.Log.Info("parcel delivered notification",
		"parcel_id", parcel.ID,
		"recipient_email", parcel.Email,
		"driver", driverRef,
	)
}

func (n *LoggingNotifier) NotifyOfficeFallback(_ context.Context, parcel *domain.Parcel, office *domain.Office, driverRef string) {
	logger.Log.Info("parcel office-fallback notification",
		"parcel_id", parcel.ID,
		"recipient_email", parcel.Email,
		"office_id", office.ID,
		"office_name", office.Name,
		"driver", driverRef,
	)
}
