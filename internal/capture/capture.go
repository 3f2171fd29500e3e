// Package capture implements the outbound audio pipeline: it taps the
// microphone at a fixed buffer size, gates silent buffers by RMS energy,
// converts the rest to PCM16LE, and ships them base64-encoded over the
// media-stream channel.
package capture

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/airdial/airdial/internal/config"
	"github.com/airdial/airdial/internal/observe"
	"github.com/airdial/airdial/pkg/audio"
	"github.com/airdial/airdial/pkg/audio/device"
)

// Sender transmits one base64-encoded PCM16LE frame. Implemented by
// stream.Channel; frames sent while the socket is down are dropped.
type Sender interface {
	SendAudio(ctx context.Context, payload string) bool
}

// Pipeline owns the microphone stream. At most one stream is open at a
// time: starting a new capture tears the prior one down first. All methods
// are safe for concurrent use.
type Pipeline struct {
	host    device.Host
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	cfg      config.AudioConfig
	stream   device.CaptureStream
	deviceID string
	streamID string
	done     chan struct{}
}

// New creates an idle capture pipeline.
func New(cfg config.AudioConfig, host device.Host, log *slog.Logger, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{cfg: cfg, host: host, log: log, metrics: metrics}
}

// SetInputDevice selects the microphone used by the next Start. It does
// not affect a capture already in progress.
func (p *Pipeline) SetInputDevice(id string) {
	p.mu.Lock()
	p.deviceID = id
	p.mu.Unlock()
}

// Retune replaces the audio tunables, typically after a config reload. The
// silence gate applies to the very next buffer, including on a capture
// already in progress; sample rate and buffer size take effect on the next
// Start because the open stream's format is fixed.
func (p *Pipeline) Retune(cfg config.AudioConfig) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// Active reports whether a capture stream is currently open.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Start acquires the microphone and begins streaming frames tagged with
// streamID to the sender. Reports whether capture started; acquisition
// failures are logged, not returned, and leave the pipeline idle.
func (p *Pipeline) Start(ctx context.Context, sender Sender, streamID string) bool {
	// Never hold two microphone streams: tear down any prior capture first.
	p.Stop()

	p.mu.Lock()
	captureCfg := device.CaptureConfig{
		DeviceID:         p.deviceID,
		SampleRate:       p.cfg.SampleRate,
		BufferSize:       p.cfg.CaptureBufferSize,
		EchoCancellation: p.cfg.EchoCancellationEnabled(),
		NoiseSuppression: p.cfg.NoiseSuppressionEnabled(),
		AutoGainControl:  p.cfg.AutoGainControlEnabled(),
	}
	p.mu.Unlock()

	stream, err := p.host.OpenCapture(ctx, captureCfg)
	if err != nil {
		p.log.Error("microphone acquisition failed", "device_id", captureCfg.DeviceID, "error", err)
		return false
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.stream = stream
	p.streamID = streamID
	p.done = done
	p.mu.Unlock()

	go p.run(stream, sender, streamID, done)

	p.log.Info("capture started",
		"stream_id", streamID,
		"sample_rate", captureCfg.SampleRate,
		"buffer_size", captureCfg.BufferSize,
	)
	return true
}

// Stop tears the capture down: the processing loop exits, the microphone
// is released, and either step failing is logged without blocking the
// other. Safe to call when idle.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stream := p.stream
	done := p.done
	streamID := p.streamID
	p.stream = nil
	p.done = nil
	p.streamID = ""
	p.mu.Unlock()

	if stream == nil {
		return
	}

	if err := stream.Stop(); err != nil {
		p.log.Warn("microphone release failed", "stream_id", streamID, "error", err)
	}
	<-done
	p.log.Info("capture stopped", "stream_id", streamID)
}

// run consumes capture buffers until the stream closes. Buffers below the
// silence threshold are never sent: that loss is deliberate bandwidth
// conservation, not an error.
func (p *Pipeline) run(stream device.CaptureStream, sender Sender, streamID string, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for buf := range stream.Buffers() {
		p.metrics.FramesCaptured.Add(ctx, 1)

		p.mu.Lock()
		threshold := p.cfg.SilenceThreshold
		p.mu.Unlock()

		if audio.RMS(buf) <= threshold {
			p.metrics.FramesGated.Add(ctx, 1)
			continue
		}

		payload := base64.StdEncoding.EncodeToString(audio.EncodePCM16(buf))
		if sender.SendAudio(ctx, payload) {
			p.metrics.FramesSent.Add(ctx, 1)
		} else {
			p.log.Debug("capture frame dropped", "stream_id", streamID)
		}
	}
}
