package playback

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/airdial/airdial/pkg/audio/device/mock"
)

func TestGraphSink_PassthroughWritesPCM(t *testing.T) {
	host := &mock.Host{PlaybackResult: &mock.PlaybackStream{}}
	sink := NewGraphSink(host, 16000, slog.Default())

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := sink.Play(context.Background(), pcm); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if len(host.PlaybackCalls) != 1 {
		t.Fatalf("OpenPlayback called %d times, want 1", len(host.PlaybackCalls))
	}
	if got := host.PlaybackCalls[0].SampleRate; got != 16000 {
		t.Errorf("stream sample rate = %d, want 16000 for raw PCM", got)
	}
	if !bytes.Equal(host.PlaybackResult.Written[0], pcm) {
		t.Errorf("written PCM = %x, want %x", host.PlaybackResult.Written[0], pcm)
	}
}

func TestGraphSink_MulawFormatReopensAtCodecRate(t *testing.T) {
	host := &mock.Host{PlaybackResult: &mock.PlaybackStream{}}
	sink := NewGraphSink(host, 16000, slog.Default())

	if err := sink.SetFormat("audio/x-mulaw"); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := sink.Play(context.Background(), []byte{0xFF, 0x7F, 0x00}); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if got := host.PlaybackCalls[0].SampleRate; got != 8000 {
		t.Errorf("stream sample rate = %d, want 8000 for mu-law", got)
	}
	// 3 mu-law bytes decode to 3 16-bit samples.
	if got := len(host.PlaybackResult.Written[0]); got != 6 {
		t.Errorf("decoded PCM size = %d bytes, want 6", got)
	}
}

func TestGraphSink_UnknownFormatRejected(t *testing.T) {
	sink := NewGraphSink(&mock.Host{}, 16000, slog.Default())
	if err := sink.SetFormat("audio/flac"); err == nil {
		t.Error("SetFormat should reject an unsupported encoding")
	}
}

func TestGraphSink_WriteFailureDiscardsStream(t *testing.T) {
	failing := &mock.PlaybackStream{WriteError: errors.New("device gone")}
	host := &mock.Host{PlaybackResult: failing}
	sink := NewGraphSink(host, 16000, slog.Default())

	if err := sink.Play(context.Background(), []byte{0x01, 0x02}); err == nil {
		t.Fatal("Play should surface the write failure")
	}
	if failing.CallCountClose == 0 {
		t.Error("failed stream should be closed")
	}

	// The next Play reopens a fresh stream.
	host.PlaybackResult = &mock.PlaybackStream{}
	if err := sink.Play(context.Background(), []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Play after recovery: %v", err)
	}
	if len(host.PlaybackCalls) != 2 {
		t.Errorf("OpenPlayback called %d times, want 2", len(host.PlaybackCalls))
	}
}

func TestGraphSink_SetOutputDeviceTakesEffectOnNextPlay(t *testing.T) {
	host := &mock.Host{}
	sink := NewGraphSink(host, 16000, slog.Default())

	if err := sink.Play(context.Background(), []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.SetOutputDevice("spk-2")
	host.PlaybackResult = &mock.PlaybackStream{}
	if err := sink.Play(context.Background(), []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if got := host.PlaybackCalls[1].DeviceID; got != "spk-2" {
		t.Errorf("DeviceID = %q, want spk-2", got)
	}
}

func TestMediaElementSink_PlaysEncodedBytesAsIs(t *testing.T) {
	player := &mock.MediaPlayer{}
	host := &mock.Host{PlayerResult: player}
	sink := NewMediaElementSink(host, slog.Default())

	clip := []byte("not-pcm-at-all")
	if err := sink.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !bytes.Equal(player.Played[0], clip) {
		t.Errorf("player received %q, want the untouched chunk", player.Played[0])
	}
}

func TestMediaElementSink_OpenFailureSurfaced(t *testing.T) {
	host := &mock.Host{PlayerError: errors.New("no media element")}
	sink := NewMediaElementSink(host, slog.Default())

	if err := sink.Play(context.Background(), []byte("x")); err == nil {
		t.Error("Play should surface the open failure")
	}
}
