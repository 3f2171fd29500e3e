package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.FramesCaptured == nil || m.FramesGated == nil || m.FramesSent == nil {
		t.Error("capture instruments not initialised")
	}
	if m.ChunksEnqueued == nil || m.ChunksTrimmed == nil || m.SinkFallbacks == nil ||
		m.PlaybackStalls == nil || m.QueueDepth == nil || m.ChunkPlayDuration == nil {
		t.Error("playback instruments not initialised")
	}
	if m.Reconnects == nil || m.Heartbeats == nil || m.DroppedFrames == nil {
		t.Error("transport instruments not initialised")
	}
	if m.StateTransitions == nil || m.TokenRefreshes == nil || m.ActiveCalls == nil {
		t.Error("session instruments not initialised")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTP instrument not initialised")
	}
}

func TestMetrics_RecordAndCollect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.FramesSent.Add(ctx, 3)
	m.QueueDepth.Add(ctx, 5)
	m.QueueDepth.Add(ctx, -2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			found[met.Name] = true
			switch met.Name {
			case "airdial.capture.sent":
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 3 {
					t.Errorf("capture.sent: unexpected data %+v", met.Data)
				}
			case "airdial.playback.queue_depth":
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 3 {
					t.Errorf("queue_depth: unexpected data %+v", met.Data)
				}
			}
		}
	}

	if !found["airdial.capture.sent"] || !found["airdial.playback.queue_depth"] {
		t.Errorf("expected instruments missing from collection: %v", found)
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	if m == nil || m.FramesSent == nil {
		t.Fatal("NopMetrics returned unusable instruments")
	}
	// Must not panic.
	m.FramesSent.Add(context.Background(), 1)
}
