package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/airdial/airdial/internal/cdr"
	"github.com/airdial/airdial/internal/config"
	"github.com/airdial/airdial/internal/observe"
	"github.com/airdial/airdial/internal/session"
	devicemock "github.com/airdial/airdial/pkg/audio/device/mock"
	telmock "github.com/airdial/airdial/pkg/telephony/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: 127.0.0.1:0\n"))
	if err != nil {
		t.Fatalf("loading test config: %v", err)
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_FallsBackToMockProviders(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), testLogger(), Providers{},
		WithRecordStore(cdr.NewMemoryStore(0)),
		WithMetrics(observe.NopMetrics()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown()

	if a.Controller() == nil {
		t.Fatal("controller not wired")
	}
	if got := a.Controller().CurrentState(); got != session.StateOffline {
		t.Errorf("initial state = %q, want %q", got, session.StateOffline)
	}
	if a.Notifier() == nil {
		t.Error("notifier not wired")
	}
}

func TestNew_InjectedRecordStoreSkipsPostgres(t *testing.T) {
	cfg := testConfig(t)
	// An unreachable DSN must not matter when a store is injected.
	cfg.CDR.PostgresDSN = "postgres://nobody@127.0.0.1:1/never"

	a, err := New(context.Background(), cfg, testLogger(), Providers{},
		WithRecordStore(cdr.NewMemoryStore(0)),
		WithMetrics(observe.NopMetrics()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Shutdown()
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	providers := Providers{
		Host:   &devicemock.Host{},
		Device: &telmock.Device{},
		Tokens: &telmock.TokenSource{},
	}
	a, err := New(context.Background(), testConfig(t), testLogger(), providers,
		WithRecordStore(cdr.NewMemoryStore(0)),
		WithMetrics(observe.NopMetrics()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestApplyConfig_RetunesRunningPipelines(t *testing.T) {
	host := &devicemock.Host{CaptureResult: devicemock.NewCaptureStream(4)}
	providers := Providers{
		Host:   host,
		Device: &telmock.Device{},
		Tokens: &telmock.TokenSource{},
	}
	a, err := New(context.Background(), testConfig(t), testLogger(), providers,
		WithRecordStore(cdr.NewMemoryStore(0)),
		WithMetrics(observe.NopMetrics()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown()

	cfg := testConfig(t)
	cfg.Audio.SampleRate = 8000
	cfg.Audio.CaptureBufferSize = 2048
	a.ApplyConfig(cfg)

	// The next capture opens with the reloaded parameters.
	if !a.capture.Start(context.Background(), a.channel, "MZ9") {
		t.Fatal("capture Start should succeed")
	}
	defer a.capture.Stop()

	if len(host.CaptureCalls) != 1 {
		t.Fatalf("OpenCapture called %d times, want 1", len(host.CaptureCalls))
	}
	if got := host.CaptureCalls[0]; got.SampleRate != 8000 || got.BufferSize != 2048 {
		t.Errorf("capture parameters = %d Hz / %d samples, want 8000 / 2048", got.SampleRate, got.BufferSize)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), testLogger(), Providers{},
		WithRecordStore(cdr.NewMemoryStore(0)),
		WithMetrics(observe.NopMetrics()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
