// Package app wires all airdial subsystems into a running agent.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API and blocks until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via the Providers struct and
// functional options. When a provider slot is nil, New falls back to the
// bundled mock so the agent can run without real vendor credentials.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/airdial/airdial/internal/api"
	"github.com/airdial/airdial/internal/capture"
	"github.com/airdial/airdial/internal/cdr"
	"github.com/airdial/airdial/internal/config"
	"github.com/airdial/airdial/internal/health"
	"github.com/airdial/airdial/internal/notify"
	"github.com/airdial/airdial/internal/observe"
	"github.com/airdial/airdial/internal/playback"
	"github.com/airdial/airdial/internal/session"
	"github.com/airdial/airdial/internal/stream"
	"github.com/airdial/airdial/pkg/audio/device"
	devicemock "github.com/airdial/airdial/pkg/audio/device/mock"
	"github.com/airdial/airdial/pkg/telephony"
	telmock "github.com/airdial/airdial/pkg/telephony/mock"
)

// Providers holds the external integrations main.go selects: the host media
// backend and the vendor telephony SDK. Nil slots fall back to mocks
// (Host, Device) or to config-derived defaults (Tokens).
type Providers struct {
	Host   device.Host
	Device telephony.Device
	Tokens telephony.TokenSource
}

// App owns all subsystem lifetimes for one airdial agent.
type App struct {
	cfg *config.Config
	log *slog.Logger

	metrics    *observe.Metrics
	notifier   *notify.Notifier
	health     *health.Handler
	enumerator *device.Enumerator
	capture    *capture.Pipeline
	playback   *playback.Pipeline
	channel    *stream.Channel
	controller *session.Controller
	records    cdr.Store
	server     *http.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecordStore injects a call-record store instead of opening one from
// config.
func WithRecordStore(s cdr.Store) Option {
	return func(a *App) { a.records = s }
}

// WithMetrics injects a metrics bundle instead of the global meter provider's.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go; use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: telemetry providers, the
// call-record store, the audio pipelines, the media-stream channel, and the
// session controller. Registration with the telephony vendor is deferred to
// Run so the control API is reachable even while the vendor is down.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, providers Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: log,
	}
	for _, o := range opts {
		o(a)
	}

	if providers.Host == nil {
		providers.Host = &devicemock.Host{}
		log.Warn("no host media backend configured, using in-memory mock")
	}
	if providers.Device == nil {
		providers.Device = &telmock.Device{}
		log.Warn("no telephony SDK configured, using in-memory mock")
	}
	if providers.Tokens == nil {
		providers.Tokens = session.NewHTTPTokenSource(cfg.Telephony.TokenURL)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Notifications ─────────────────────────────────────────────────
	a.notifier = notify.New(log, cfg.Telephony.NotifyCooldown())

	// ── 3. Call records ──────────────────────────────────────────────────
	if err := a.initRecords(ctx); err != nil {
		return nil, fmt.Errorf("app: init call records: %w", err)
	}

	// ── 4. Devices + audio pipelines ─────────────────────────────────────
	a.enumerator = device.NewEnumerator(providers.Host, providers.Device)
	a.capture = capture.New(cfg.Audio, providers.Host, log, a.metrics)
	a.playback = playback.New(cfg.Audio, []playback.Sink{
		playback.NewGraphSink(providers.Host, cfg.Audio.SampleRate, log),
		playback.NewMediaElementSink(providers.Host, log),
	}, log, a.metrics)
	a.playback.Start()
	a.closers = append(a.closers, a.playback.Close)

	// ── 5. Session controller + media channel ────────────────────────────
	a.controller = session.New(cfg.Telephony, session.Deps{
		Device:   providers.Device,
		Tokens:   providers.Tokens,
		Capture:  a.capture,
		Playback: a.playback,
		Notifier: a.notifier,
		Recorder: cdr.NewRecorder(a.records, log),
		Log:      log,
		Metrics:  a.metrics,
	})
	a.channel = stream.New(cfg.Transport, log, a.metrics, a.controller.ChannelHandlers())
	a.controller.AttachChannel(a.channel)
	a.closers = append(a.closers, a.controller.Close)

	// ── 6. Control API ───────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel providers and the metrics bundle.
func (a *App) initTelemetry(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return nil
}

// initRecords opens the PostgreSQL call-record store, or falls back to the
// in-memory ring when no DSN is configured.
func (a *App) initRecords(ctx context.Context) error {
	if a.records != nil {
		return nil // injected
	}

	dsn := a.cfg.CDR.PostgresDSN
	if dsn == "" {
		a.records = cdr.NewMemoryStore(0)
		a.log.Info("call records kept in memory only")
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := cdr.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate call records: %w", err)
	}
	a.records = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	a.healthChecker(health.Checker{
		Name:  "cdr",
		Check: pool.Ping,
	})
	return nil
}

// initHTTP assembles the control-API mux: health probes, metrics, and the
// call-control routes.
func (a *App) initHTTP() {
	if a.health == nil {
		a.health = health.New()
	}
	a.health.Add(health.Checker{
		Name: "telephony",
		Check: func(context.Context) error {
			st := a.controller.Status()
			if st.State == session.StateError {
				return fmt.Errorf("session in error state")
			}
			if st.ManualInitRequired {
				return fmt.Errorf("initialization attempts exhausted, manual initialize required")
			}
			return nil
		},
	})
	a.health.Add(health.Checker{
		Name: "stream",
		Check: func(context.Context) error {
			st := a.controller.Status()
			if st.State == session.StateBusy && !st.Channel.Connected {
				return fmt.Errorf("call active but media channel disconnected")
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	api.New(a.controller, a.enumerator, a.records, a.notifier, a.log).Register(mux)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// healthChecker registers a readiness checker, creating the handler if the
// init order has not reached it yet.
func (a *App) healthChecker(c health.Checker) {
	if a.health == nil {
		a.health = health.New()
	}
	a.health.Add(c)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the control API and the automatic session initialization, then
// blocks until ctx is cancelled or the HTTP listener fails. Shutdown is
// invoked on the way out.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("control API listening",
			"addr", a.cfg.Server.ListenAddr,
			"tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.controller.AutoInitialize(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("control API shutdown", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if closeErr := a.Shutdown(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse construction order. It is
// safe to call more than once.
func (a *App) Shutdown() error {
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Warn("shutdown step failed", "error", err)
				if a.stopErr == nil {
					a.stopErr = err
				}
			}
		}
		a.log.Info("agent stopped")
	})
	return a.stopErr
}

// ApplyConfig pushes the retunable knobs from a reloaded configuration into
// the running pipelines: the audio tunables into capture and playback, the
// transport tunables into the media channel. Listen address, TLS, storage,
// and telephony settings require a restart and are left untouched.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.capture.Retune(cfg.Audio)
	a.playback.Retune(cfg.Audio)
	a.channel.Retune(cfg.Transport)
	a.log.Info("retunable configuration applied",
		"silence_threshold", cfg.Audio.SilenceThreshold,
		"queue_limit", cfg.Audio.QueueLimit,
		"heartbeat_seconds", cfg.Transport.HeartbeatSeconds,
	)
}

// Controller exposes the session controller, mainly for tests.
func (a *App) Controller() *session.Controller { return a.controller }

// Notifier exposes the user-notification hub.
func (a *App) Notifier() *notify.Notifier { return a.notifier }
