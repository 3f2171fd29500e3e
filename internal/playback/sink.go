package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/airdial/airdial/pkg/audio/codec"
	"github.com/airdial/airdial/pkg/audio/device"
)

// Sink renders one audio chunk. The pipeline tries its sinks in preference
// order per chunk, falling through on error without surfacing it to the
// enqueuer.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// SetFormat announces the encoding of subsequent chunks. Sinks that
	// play encoded bytes as-is may ignore it.
	SetFormat(format string) error

	// Play renders one chunk, blocking until playback ends or fails.
	Play(ctx context.Context, chunk []byte) error

	// Close releases the sink's device resources.
	Close() error
}

// GraphSink is the decode-and-schedule path: chunks are decoded to PCM16LE
// and written to a host playback stream. It is the preferred sink.
type GraphSink struct {
	host    device.Host
	pcmRate int
	log     *slog.Logger

	mu       sync.Mutex
	deviceID string
	dec      codec.Decoder
	stream   device.PlaybackStream
}

// NewGraphSink creates a graph sink. pcmRate is the sample rate assumed for
// raw PCM16LE chunks when the gateway announces no format.
func NewGraphSink(host device.Host, pcmRate int, log *slog.Logger) *GraphSink {
	return &GraphSink{host: host, pcmRate: pcmRate, log: log}
}

// Name implements [Sink].
func (s *GraphSink) Name() string { return "graph" }

// SetFormat implements [Sink]. The playback stream is reopened lazily on
// the next Play so that its sample rate matches the new decoder.
func (s *GraphSink) SetFormat(format string) error {
	dec, err := codec.New(format, s.pcmRate)
	if err != nil {
		return fmt.Errorf("playback: select decoder: %w", err)
	}

	s.mu.Lock()
	s.dec = dec
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.log.Warn("playback stream close failed", "error", err)
		}
	}
	return nil
}

// SetOutputDevice routes playback to the given device. Takes effect on the
// next Play.
func (s *GraphSink) SetOutputDevice(id string) {
	s.mu.Lock()
	s.deviceID = id
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.log.Warn("playback stream close failed", "error", err)
		}
	}
}

// Play implements [Sink].
func (s *GraphSink) Play(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dec == nil {
		dec, err := codec.New("", s.pcmRate)
		if err != nil {
			return err
		}
		s.dec = dec
	}
	if s.stream == nil {
		stream, err := s.host.OpenPlayback(ctx, device.PlaybackConfig{
			DeviceID:   s.deviceID,
			SampleRate: s.dec.SampleRate(),
			Channels:   s.dec.Channels(),
		})
		if err != nil {
			return fmt.Errorf("playback: open stream: %w", err)
		}
		s.stream = stream
	}

	pcm, err := s.dec.Decode(chunk)
	if err != nil {
		return fmt.Errorf("playback: decode (%s): %w", s.dec.Name(), err)
	}
	if err := s.stream.WritePCM(pcm); err != nil {
		// A failed stream is discarded; the next Play reopens it.
		s.stream.Close()
		s.stream = nil
		return fmt.Errorf("playback: write: %w", err)
	}
	return nil
}

// Close implements [Sink].
func (s *GraphSink) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}

// MediaElementSink is the fallback path: chunks are handed to the host's
// encoded-media player untouched, letting the host's own demuxer cope with
// whatever the gateway sent.
type MediaElementSink struct {
	host device.Host
	log  *slog.Logger

	mu     sync.Mutex
	player device.MediaPlayer
}

// NewMediaElementSink creates the fallback sink.
func NewMediaElementSink(host device.Host, log *slog.Logger) *MediaElementSink {
	return &MediaElementSink{host: host, log: log}
}

// Name implements [Sink].
func (s *MediaElementSink) Name() string { return "media-element" }

// SetFormat implements [Sink]. The media player sniffs the container
// itself, so the announced format is not needed.
func (s *MediaElementSink) SetFormat(string) error { return nil }

// Play implements [Sink].
func (s *MediaElementSink) Play(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	if s.player == nil {
		player, err := s.host.OpenMediaPlayer(ctx)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("playback: open media player: %w", err)
		}
		s.player = player
	}
	player := s.player
	s.mu.Unlock()

	return player.Play(ctx, chunk)
}

// Close implements [Sink].
func (s *MediaElementSink) Close() error {
	s.mu.Lock()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}
