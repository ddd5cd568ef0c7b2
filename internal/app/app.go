// Package app wires configuration into a runnable santa runtime.
package app

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"secretsanta/internal/archive"
	"secretsanta/internal/blob"
	"secretsanta/internal/cli"
	"secretsanta/internal/config"
	"secretsanta/internal/core"
	"secretsanta/internal/notify"
	"secretsanta/internal/scheduler"
)

const backupJob = "backup_state"

// Option adjusts how Open wires the runtime.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	notifier notify.Notifier
	clock    core.Clock
}

// WithRegistry collects metrics into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithNotifier overrides the notifier chosen from configuration.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock overrides the wall clock.
func WithClock(c core.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Open builds the service and its collaborators from cfg.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*cli.Runtime, error) {
	o := options{clock: core.ClockFunc(nil)}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	log := core.NewSlogLogger(logger)

	storage := cfg.Storage()
	storage.Logger = log
	persister, err := core.OpenStateStore(ctx, storage, o.clock)
	if err != nil {
		return nil, err
	}
	closePersister := func() error {
		if persister == nil {
			return nil
		}
		return persister.Close()
	}
	store := core.OpenGuard(ctx, persister, nil, o.clock, log)

	blobs, err := blob.Open(ctx, cfg.Blob())
	if err != nil {
		_ = closePersister()
		return nil, fmt.Errorf("open archive store: %w", err)
	}
	manager := archive.NewManager(blobs,
		archive.WithClock(o.clock.Now),
		archive.WithSkipHandler(func(key string, err error) {
			logger.Warn("archive record skipped", "key", key, "error", err)
		}),
	)

	notifier := o.notifier
	if notifier == nil {
		notifier, err = newNotifier(cfg, logger)
		if err != nil {
			_ = closePersister()
			return nil, err
		}
	}

	prom, err := core.NewPrometheusMetricsRecorder(o.registry, "santa")
	if err != nil {
		_ = closePersister()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	metrics := core.NewMultiMetricsRecorder(prom, core.NewExpvarMetricsRecorder(""))

	var tracer core.Tracer = core.NewOTelTracer(otel.GetTracerProvider())
	closeAll := closePersister
	if cfg.TraceFile != "" {
		// #nosec G304 -- operator configured trace path
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_ = closePersister()
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		tracer = core.NewMultiTracer(tracer, core.NewTraceLog(f))
		closeAll = func() error { return errors.Join(closePersister(), f.Close()) }
	}

	svc := core.NewService(store,
		core.WithClock(o.clock),
		core.WithLogger(log),
		core.WithMetricsRecorder(metrics),
		core.WithTracer(tracer),
		core.WithArchive(manager),
		core.WithNotifier(notifier),
		core.WithNotifyConcurrency(cfg.NotifyConcurrency),
		core.WithHistoryLookback(cfg.HistoryLookback),
		core.WithLocale(cfg.Language()),
	)

	s := &server{
		svc:      svc,
		logger:   logger,
		addr:     cfg.MetricsAddr,
		schedule: cfg.BackupSchedule,
		registry: o.registry,
	}
	return &cli.Runtime{Service: svc, Serve: s.serve, Close: closeAll}, nil
}

func newNotifier(cfg config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.TelegramToken == "" {
		return notify.NewLogNotifier(logger), nil
	}
	tg, err := notify.NewTelegramNotifier(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	return tg, nil
}

type server struct {
	svc      *core.Service
	logger   *slog.Logger
	addr     string
	schedule string
	registry *prometheus.Registry
}

// Handler serves Prometheus metrics, expvar and a health check.
func Handler(reg prometheus.Gatherer, svc *core.Service) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ev := svc.Current()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok year=%d active=%t revision=%d\n", ev.Year, ev.Active, ev.Revision)
	})
	return mux
}

// serve runs scheduled backups and the metrics listener until ctx is done.
func (s *server) serve(ctx context.Context) error {
	sched := scheduler.New(s.logger)
	if err := sched.Add(backupJob, s.schedule, s.svc.BackupState); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           Handler(s.registry, s.svc),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("serving", "addr", ln.Addr().String(), "backup_schedule", s.schedule)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := s.svc.BackupState(shutdownCtx); err != nil {
		s.logger.Warn("final backup failed", "error", err)
	}
	return nil
}
