package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:7880" {
		t.Errorf("ListenAddr = %q, want default", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.CaptureBufferSize != 4096 {
		t.Errorf("CaptureBufferSize = %d, want 4096", cfg.Audio.CaptureBufferSize)
	}
	if cfg.Audio.SilenceThreshold != 0.005 {
		t.Errorf("SilenceThreshold = %g, want 0.005", cfg.Audio.SilenceThreshold)
	}
	if cfg.Audio.QueueLimit != 20 || cfg.Audio.QueueTrimTo != 10 {
		t.Errorf("queue caps = %d/%d, want 20/10", cfg.Audio.QueueLimit, cfg.Audio.QueueTrimTo)
	}
	if cfg.Audio.WatchdogInterval() != time.Second {
		t.Errorf("WatchdogInterval = %v, want 1s", cfg.Audio.WatchdogInterval())
	}
	if cfg.Audio.StallAfter() != 500*time.Millisecond {
		t.Errorf("StallAfter = %v, want 500ms", cfg.Audio.StallAfter())
	}
	if cfg.Transport.ConnectTimeout() != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.Transport.ConnectTimeout())
	}
	if cfg.Transport.Heartbeat() != 20*time.Second {
		t.Errorf("Heartbeat = %v, want 20s", cfg.Transport.Heartbeat())
	}
	if cfg.Transport.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d, want 3", cfg.Transport.MaxReconnectAttempts)
	}
	if cfg.Transport.ReconnectDelay() != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.Transport.ReconnectDelay())
	}
	if cfg.Telephony.InitAttempts != 3 {
		t.Errorf("InitAttempts = %d, want 3", cfg.Telephony.InitAttempts)
	}
	if !cfg.Audio.EchoCancellationEnabled() || !cfg.Audio.NoiseSuppressionEnabled() || !cfg.Audio.AutoGainControlEnabled() {
		t.Error("capture processing hints should default to enabled")
	}
}

func TestLoadFromReader_ExplicitValues(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
audio:
  sample_rate: 48000
  silence_threshold: 0.01
  echo_cancellation: false
transport:
  url: wss://media.example.com/stream
  heartbeat_seconds: 5
telephony:
  token_url: https://issuer.example.com/token
  caller_id: "+15551234567"
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.EchoCancellationEnabled() {
		t.Error("echo_cancellation: false should disable the hint")
	}
	if cfg.Audio.NoiseSuppressionEnabled() != true {
		t.Error("unset noise_suppression should stay enabled")
	}
	if cfg.Transport.Heartbeat() != 5*time.Second {
		t.Errorf("Heartbeat = %v, want 5s", cfg.Transport.Heartbeat())
	}
	if cfg.Telephony.CallerID != "+15551234567" {
		t.Errorf("CallerID = %q", cfg.Telephony.CallerID)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("bogus_section:\n  x: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "server:\n  log_level: loud\n"},
		{"bad transport scheme", "transport:\n  url: https://example.com\n"},
		{"trim exceeds limit", "audio:\n  queue_limit: 5\n  queue_trim_to: 10\n"},
		{"threshold out of range", "audio:\n  silence_threshold: 1.5\n"},
		{"negative sample rate", "audio:\n  sample_rate: -1\n"},
		{"tls missing key", "server:\n  tls:\n    cert_file: cert.pem\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromReader(strings.NewReader(tt.yaml)); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}
