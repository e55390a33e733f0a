package billing

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the structured logger used for operation-boundary failure
// logging. Nil loggers are ignored.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Useful for testing the calendar-based
// commitment rule with fixed dates.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier enables post-commit membership notifications.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *service) {
		s.notifier = n
	}
}

// WithActivitySource enables the conditional prior-activity notice on join.
// Without a source the second notice is never sent.
func WithActivitySource(src ActivitySource) ServiceOption {
	return func(s *service) {
		s.activity = src
	}
}
