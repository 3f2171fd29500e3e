// Package observe provides application-wide observability primitives for
// airdial: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware for the control API.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all airdial metrics.
const meterName = "github.com/airdial/airdial"

// Metrics holds all OpenTelemetry metric instruments for the media agent.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture pipeline ---

	// FramesCaptured counts microphone buffers delivered by the host.
	FramesCaptured metric.Int64Counter

	// FramesGated counts buffers suppressed by the silence gate.
	FramesGated metric.Int64Counter

	// FramesSent counts frames transmitted on the media stream.
	FramesSent metric.Int64Counter

	// --- Playback pipeline ---

	// ChunksEnqueued counts inbound audio chunks accepted into the queue.
	ChunksEnqueued metric.Int64Counter

	// ChunksTrimmed counts chunks discarded by queue-overflow trimming.
	ChunksTrimmed metric.Int64Counter

	// SinkFallbacks counts chunks that fell through to a lower-preference
	// sink. Use with attribute: attribute.String("sink", ...).
	SinkFallbacks metric.Int64Counter

	// PlaybackStalls counts watchdog-detected playback stalls.
	PlaybackStalls metric.Int64Counter

	// QueueDepth tracks the current playback queue length.
	QueueDepth metric.Int64UpDownCounter

	// ChunkPlayDuration tracks per-chunk decode+render latency.
	ChunkPlayDuration metric.Float64Histogram

	// --- Transport channel ---

	// Reconnects counts reconnection attempts. Use with attribute:
	//   attribute.String("outcome", "success"|"failure")
	Reconnects metric.Int64Counter

	// Heartbeats counts pings sent on the media stream.
	Heartbeats metric.Int64Counter

	// DroppedFrames counts frames discarded because the socket was not open.
	DroppedFrames metric.Int64Counter

	// --- Session controller ---

	// StateTransitions counts session state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// TokenRefreshes counts capability-token refreshes. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	TokenRefreshes metric.Int64Counter

	// ActiveCalls tracks the number of live call legs (0 or 1 per agent).
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control-API request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time audio latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture counters.
	if met.FramesCaptured, err = m.Int64Counter("airdial.capture.frames",
		metric.WithDescription("Total microphone buffers delivered by the host."),
	); err != nil {
		return nil, err
	}
	if met.FramesGated, err = m.Int64Counter("airdial.capture.gated",
		metric.WithDescription("Total buffers suppressed by the silence gate."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("airdial.capture.sent",
		metric.WithDescription("Total frames transmitted on the media stream."),
	); err != nil {
		return nil, err
	}

	// Playback instruments.
	if met.ChunksEnqueued, err = m.Int64Counter("airdial.playback.enqueued",
		metric.WithDescription("Total inbound audio chunks accepted into the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.ChunksTrimmed, err = m.Int64Counter("airdial.playback.trimmed",
		metric.WithDescription("Total chunks discarded by queue-overflow trimming."),
	); err != nil {
		return nil, err
	}
	if met.SinkFallbacks, err = m.Int64Counter("airdial.playback.sink_fallbacks",
		metric.WithDescription("Total chunks that fell through to a lower-preference sink."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStalls, err = m.Int64Counter("airdial.playback.stalls",
		metric.WithDescription("Total watchdog-detected playback stalls."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("airdial.playback.queue_depth",
		metric.WithDescription("Current playback queue length."),
	); err != nil {
		return nil, err
	}
	if met.ChunkPlayDuration, err = m.Float64Histogram("airdial.playback.chunk_duration",
		metric.WithDescription("Per-chunk decode and render latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Transport counters.
	if met.Reconnects, err = m.Int64Counter("airdial.stream.reconnects",
		metric.WithDescription("Total reconnection attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Heartbeats, err = m.Int64Counter("airdial.stream.heartbeats",
		metric.WithDescription("Total heartbeat pings sent."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("airdial.stream.dropped_frames",
		metric.WithDescription("Total frames discarded because the socket was not open."),
	); err != nil {
		return nil, err
	}

	// Session instruments.
	if met.StateTransitions, err = m.Int64Counter("airdial.session.transitions",
		metric.WithDescription("Total session state changes by from/to state."),
	); err != nil {
		return nil, err
	}
	if met.TokenRefreshes, err = m.Int64Counter("airdial.session.token_refreshes",
		metric.WithDescription("Total capability-token refreshes by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("airdial.session.active_calls",
		metric.WithDescription("Number of live call legs."),
	); err != nil {
		return nil, err
	}

	// HTTP.
	if met.HTTPRequestDuration, err = m.Float64Histogram("airdial.http.request_duration",
		metric.WithDescription("Control-API request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] instance built from the
// globally registered meter provider. Instrument creation errors are
// impossible with valid names, so they are ignored here; tests should use
// [NewMetrics] directly.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, _ = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics
}

// NopMetrics returns a [Metrics] whose instruments record nothing. Use it in
// unit tests that do not assert on telemetry.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}
