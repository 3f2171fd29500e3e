package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.CaptureBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_buffer_size must be positive, got %d", cfg.Audio.CaptureBufferSize))
	}
	if cfg.Audio.SilenceThreshold < 0 || cfg.Audio.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold must be in [0, 1), got %g", cfg.Audio.SilenceThreshold))
	}
	if cfg.Audio.QueueTrimTo > cfg.Audio.QueueLimit {
		errs = append(errs, fmt.Errorf("audio.queue_trim_to (%d) must not exceed audio.queue_limit (%d)", cfg.Audio.QueueTrimTo, cfg.Audio.QueueLimit))
	}
	if cfg.Audio.QueueTrimTo <= 0 || cfg.Audio.QueueLimit <= 0 {
		errs = append(errs, errors.New("audio.queue_limit and audio.queue_trim_to must be positive"))
	}

	if cfg.Transport.URL != "" {
		u, err := url.Parse(cfg.Transport.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("transport.url: %w", err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("transport.url scheme must be ws or wss, got %q", u.Scheme))
		}
	}
	if cfg.Transport.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("transport.max_reconnect_attempts must not be negative, got %d", cfg.Transport.MaxReconnectAttempts))
	}

	if cfg.Telephony.TokenURL != "" {
		if _, err := url.Parse(cfg.Telephony.TokenURL); err != nil {
			errs = append(errs, fmt.Errorf("telephony.token_url: %w", err))
		}
	}
	if cfg.Telephony.InitAttempts <= 0 {
		errs = append(errs, fmt.Errorf("telephony.init_attempts must be positive, got %d", cfg.Telephony.InitAttempts))
	}

	return errors.Join(errs...)
}
