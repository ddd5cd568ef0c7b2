package core

import (
	"golang.org/x/text/language"

	"secretsanta/internal/archive"
	"secretsanta/internal/assignment"
	"secretsanta/internal/notify"
)

// ServiceOption configures optional collaborators of a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock             Clock
	logger            Logger
	audit             AuditRecorder
	metrics           MetricsRecorder
	tracer            Tracer
	archive           *archive.Manager
	engine            *assignment.Engine
	notifier          notify.Notifier
	notifyConcurrency int
	lookback          int
	locale            language.Tag
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(nil),
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		locale:  language.Und,
	}
}

// WithClock overrides the time source used for timestamps and new events.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder receives one entry per operation.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder observes operation latency and outcome.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer opens a span per operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithArchive sets the archive manager. Without it archives live in memory.
func WithArchive(manager *archive.Manager) ServiceOption {
	return func(o *serviceOptions) { o.archive = manager }
}

// WithAssignmentEngine overrides the derangement generator.
func WithAssignmentEngine(engine *assignment.Engine) ServiceOption {
	return func(o *serviceOptions) { o.engine = engine }
}

// WithNotifier sets where participant messages are delivered.
func WithNotifier(notifier notify.Notifier) ServiceOption {
	return func(o *serviceOptions) { o.notifier = notifier }
}

// WithNotifyConcurrency bounds parallel deliveries after an assignment run.
func WithNotifyConcurrency(n int) ServiceOption {
	return func(o *serviceOptions) { o.notifyConcurrency = n }
}

// WithHistoryLookback limits exclusions to the most recent n archived years;
// zero uses every year.
func WithHistoryLookback(n int) ServiceOption {
	return func(o *serviceOptions) {
		if n >= 0 {
			o.lookback = n
		}
	}
}

// WithLocale sets the collation used by Participants.
func WithLocale(tag language.Tag) ServiceOption {
	return func(o *serviceOptions) { o.locale = tag }
}
