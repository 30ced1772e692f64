// Package relay fans text frames out between every connected websocket peer and provides the
// reconnecting client the gripper and the operator tools use to reach it.
package relay

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Defaults shared by the relay and its clients.
const (
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 8765
	DefaultURL           = "ws://localhost:8765"
	DefaultQueueSize     = 256
	DefaultWriteTimeout  = 2 * time.Second
	DefaultInitialRetry  = 250 * time.Millisecond
	DefaultMaxRetry      = 2 * time.Second
	DefaultDialTimeout   = 5 * time.Second
	DefaultStableConn    = time.Second
	defaultBroadcastSize = 256
)

// ServerConfig configures a relay Server.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
	// PeerQueueSize bounds the frames waiting to be written to one peer.
	PeerQueueSize  int `json:"peer_queue_size"`
	WriteTimeoutMs int `json:"write_timeout_ms"`
	// MaxMessageBytes closes a peer that sends a larger frame. Zero means unlimited.
	MaxMessageBytes int64 `json:"max_message_bytes,omitempty"`
	// EchoToSender delivers a frame back to the peer that sent it. Unset means true.
	EchoToSender *bool `json:"echo_to_sender,omitempty"`
}

// DefaultServerConfig returns a relay listening on every interface at port 8765.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Path:           "/",
		PeerQueueSize:  DefaultQueueSize,
		WriteTimeoutMs: int(DefaultWriteTimeout / time.Millisecond),
	}
}

// Address returns the host:port to listen on.
func (cfg ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Echo reports whether senders receive their own frames.
func (cfg ServerConfig) Echo() bool {
	return cfg.EchoToSender == nil || *cfg.EchoToSender
}

// WriteTimeout bounds a single write to a peer.
func (cfg ServerConfig) WriteTimeout() time.Duration {
	if cfg.WriteTimeoutMs <= 0 {
		return DefaultWriteTimeout
	}
	return time.Duration(cfg.WriteTimeoutMs) * time.Millisecond
}

// Validate ensures the relay can start with cfg.
func (cfg *ServerConfig) Validate(path string) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return goutils.NewConfigValidationError(path, errors.Errorf("port %d out of range", cfg.Port))
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.PeerQueueSize <= 0 {
		cfg.PeerQueueSize = DefaultQueueSize
	}
	if cfg.MaxMessageBytes < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_message_bytes must be >= 0"))
	}
	return nil
}

// ClientConfig configures a relay Client.
type ClientConfig struct {
	URL string `json:"url"`
	// QueueSize bounds both the inbound and the outbound queue.
	QueueSize      int `json:"queue_size"`
	InitialRetryMs int `json:"initial_retry_ms"`
	MaxRetryMs     int `json:"max_retry_ms"`
	DialTimeoutMs  int `json:"dial_timeout_ms"`
	WriteTimeoutMs int `json:"write_timeout_ms"`
	// StableConnectionMs is how long a connection must last before a drop reconnects at once.
	// Shorter connections back off like failed dials.
	StableConnectionMs int `json:"stable_connection_ms"`
}

// DefaultClientConfig returns a client for a relay on the local machine.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:            DefaultURL,
		QueueSize:      DefaultQueueSize,
		InitialRetryMs: int(DefaultInitialRetry / time.Millisecond),
		MaxRetryMs:     int(DefaultMaxRetry / time.Millisecond),
		DialTimeoutMs:  int(DefaultDialTimeout / time.Millisecond),
		WriteTimeoutMs: int(DefaultWriteTimeout / time.Millisecond),

		StableConnectionMs: int(DefaultStableConn / time.Millisecond),
	}
}

func millisOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Validate ensures a client can be built from cfg and fills in zero values.
func (cfg *ClientConfig) Validate(path string) error {
	if cfg.URL == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "url")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return goutils.NewConfigValidationError(path, errors.Wrap(err, "url"))
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return goutils.NewConfigValidationError(path, errors.Errorf("url scheme must be ws or wss, got %q", u.Scheme))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.InitialRetryMs > 0 && cfg.MaxRetryMs > 0 && cfg.InitialRetryMs > cfg.MaxRetryMs {
		return goutils.NewConfigValidationError(path, errors.New("initial_retry_ms must not exceed max_retry_ms"))
	}
	return nil
}
