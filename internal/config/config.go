// Package config provides the configuration schema, loader, and hot-reload
// watcher for the airdial media agent.
package config

import "time"

// LogLevel controls log verbosity for the agent.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for airdial.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Transport TransportConfig `yaml:"transport"`
	Telephony TelephonyConfig `yaml:"telephony"`
	CDR       CDRConfig       `yaml:"cdr"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on
	// (e.g., "127.0.0.1:7880").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the control API. When nil, plain HTTP is used.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig holds the capture and playback tunables. The defaults mirror
// values tuned in production; none is derived from first principles, so all
// of them are exposed here. Durations follow the _seconds/_ms suffix
// convention.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// CaptureBufferSize is the number of samples per capture buffer.
	CaptureBufferSize int `yaml:"capture_buffer_size"`

	// SilenceThreshold is the RMS gate below which capture buffers are not
	// transmitted.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// QueueLimit is the playback queue length that triggers trimming.
	QueueLimit int `yaml:"queue_limit"`

	// QueueTrimTo is the queue length kept after a trim (most recent chunks).
	QueueTrimTo int `yaml:"queue_trim_to"`

	// WatchdogIntervalMS is the playback stall-detection tick in milliseconds.
	WatchdogIntervalMS int `yaml:"watchdog_interval_ms"`

	// StallAfterMS is how long playback may be idle with a non-empty queue
	// before the watchdog re-triggers processing, in milliseconds.
	StallAfterMS int `yaml:"stall_after_ms"`

	// Capture processing hints passed to the host media layer. All three
	// default to enabled; nil means "not set".
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGainControl  *bool `yaml:"auto_gain_control"`
}

// EchoCancellationEnabled reports the effective echo-cancellation hint.
func (a AudioConfig) EchoCancellationEnabled() bool {
	return a.EchoCancellation == nil || *a.EchoCancellation
}

// NoiseSuppressionEnabled reports the effective noise-suppression hint.
func (a AudioConfig) NoiseSuppressionEnabled() bool {
	return a.NoiseSuppression == nil || *a.NoiseSuppression
}

// AutoGainControlEnabled reports the effective auto-gain hint.
func (a AudioConfig) AutoGainControlEnabled() bool {
	return a.AutoGainControl == nil || *a.AutoGainControl
}

// WatchdogInterval returns the watchdog tick as a [time.Duration].
func (a AudioConfig) WatchdogInterval() time.Duration {
	return time.Duration(a.WatchdogIntervalMS) * time.Millisecond
}

// StallAfter returns the stall threshold as a [time.Duration].
func (a AudioConfig) StallAfter() time.Duration {
	return time.Duration(a.StallAfterMS) * time.Millisecond
}

// TransportConfig holds the media-stream socket settings.
type TransportConfig struct {
	// URL is the wss:// endpoint of the media-stream gateway.
	URL string `yaml:"url"`

	// ConnectTimeoutSeconds bounds each connection attempt.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// HeartbeatSeconds is the ping interval keeping intermediaries from
	// idling the socket out.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`

	// MaxReconnectAttempts caps automatic reconnection after an unexpected
	// close; afterwards an explicit reconnect is required.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ReconnectDelaySeconds is multiplied by the attempt number to produce
	// the linearly increasing reconnect delay.
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
}

// ConnectTimeout returns the connect timeout as a [time.Duration].
func (t TransportConfig) ConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutSeconds) * time.Second
}

// Heartbeat returns the heartbeat interval as a [time.Duration].
func (t TransportConfig) Heartbeat() time.Duration {
	return time.Duration(t.HeartbeatSeconds) * time.Second
}

// ReconnectDelay returns the base reconnect delay as a [time.Duration].
func (t TransportConfig) ReconnectDelay() time.Duration {
	return time.Duration(t.ReconnectDelaySeconds) * time.Second
}

// TelephonyConfig holds vendor session settings.
type TelephonyConfig struct {
	// TokenURL is the endpoint of the capability-token issuer.
	TokenURL string `yaml:"token_url"`

	// CallerID is the number presented on outbound calls.
	CallerID string `yaml:"caller_id"`

	// InitAttempts caps automatic initialization attempts before a manual
	// initialize action is surfaced.
	InitAttempts int `yaml:"init_attempts"`

	// NotifyCooldownSeconds suppresses duplicate user-facing notifications
	// inside this window.
	NotifyCooldownSeconds int `yaml:"notify_cooldown_seconds"`

	// TokenRefreshMarginSeconds is how long before expiry a refresh is
	// scheduled even without a tokenWillExpire callback.
	TokenRefreshMarginSeconds int `yaml:"token_refresh_margin_seconds"`
}

// NotifyCooldown returns the notification cooldown as a [time.Duration].
func (t TelephonyConfig) NotifyCooldown() time.Duration {
	return time.Duration(t.NotifyCooldownSeconds) * time.Second
}

// TokenRefreshMargin returns the refresh margin as a [time.Duration].
func (t TelephonyConfig) TokenRefreshMargin() time.Duration {
	return time.Duration(t.TokenRefreshMarginSeconds) * time.Second
}

// CDRConfig holds call-history storage settings.
type CDRConfig struct {
	// PostgresDSN is the connection string for the call-record store.
	// When empty, records are kept in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// applyDefaults fills zero values with the production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1:7880"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.CaptureBufferSize == 0 {
		cfg.Audio.CaptureBufferSize = 4096
	}
	if cfg.Audio.SilenceThreshold == 0 {
		cfg.Audio.SilenceThreshold = 0.005
	}
	if cfg.Audio.QueueLimit == 0 {
		cfg.Audio.QueueLimit = 20
	}
	if cfg.Audio.QueueTrimTo == 0 {
		cfg.Audio.QueueTrimTo = 10
	}
	if cfg.Audio.WatchdogIntervalMS == 0 {
		cfg.Audio.WatchdogIntervalMS = 1000
	}
	if cfg.Audio.StallAfterMS == 0 {
		cfg.Audio.StallAfterMS = 500
	}

	if cfg.Transport.ConnectTimeoutSeconds == 0 {
		cfg.Transport.ConnectTimeoutSeconds = 10
	}
	if cfg.Transport.HeartbeatSeconds == 0 {
		cfg.Transport.HeartbeatSeconds = 20
	}
	if cfg.Transport.MaxReconnectAttempts == 0 {
		cfg.Transport.MaxReconnectAttempts = 3
	}
	if cfg.Transport.ReconnectDelaySeconds == 0 {
		cfg.Transport.ReconnectDelaySeconds = 2
	}

	if cfg.Telephony.InitAttempts == 0 {
		cfg.Telephony.InitAttempts = 3
	}
	if cfg.Telephony.NotifyCooldownSeconds == 0 {
		cfg.Telephony.NotifyCooldownSeconds = 3
	}
	if cfg.Telephony.TokenRefreshMarginSeconds == 0 {
		cfg.Telephony.TokenRefreshMarginSeconds = 30
	}
}
