// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "100ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Relay is the configuration for the farview-relay binary: the
// signaling relay, device registry, and account API in one process.
type Relay struct {
	// Listen is the public HTTP listen address. The relay socket is
	// served on /ws and the account API under /api/ on this address.
	Listen string `yaml:"listen"`

	// MetricsListen is the Prometheus /metrics listen address. Empty
	// disables the metrics server.
	MetricsListen string `yaml:"metrics_listen"`

	// DatabasePath is the SQLite database file for the durable store.
	DatabasePath string `yaml:"database_path"`

	// TokenSigningKey signs account login tokens (HS256). Overridden
	// by FARVIEW_TOKEN_SIGNING_KEY when set. Required in any real
	// deployment.
	TokenSigningKey string `yaml:"token_signing_key"`

	// AccountTokenTTL is the lifetime of a login credential.
	AccountTokenTTL Duration `yaml:"account_token_ttl"`

	// DeviceTokenTTL is the lifetime of a device session token.
	DeviceTokenTTL Duration `yaml:"device_token_ttl"`

	// WriteTimeout bounds a single outbound socket write.
	WriteTimeout Duration `yaml:"write_timeout"`

	// PingInterval is the WebSocket keepalive ping cadence.
	PingInterval Duration `yaml:"ping_interval"`

	// OutboundQueueSize is the per-connection outbound envelope queue.
	// A full queue drops envelopes rather than blocking the router.
	OutboundQueueSize int `yaml:"outbound_queue_size"`
}

// Agent is the configuration for the farview-agent binary.
type Agent struct {
	// ServerURL is the base URL of the account API.
	ServerURL string `yaml:"server_url"`

	// SocketURL is the relay WebSocket URL.
	SocketURL string `yaml:"socket_url"`

	// DeviceName is the human-readable name sent with connection
	// requests and shown in device listings.
	DeviceName string `yaml:"device_name"`

	// Platform is reported at device registration.
	Platform string `yaml:"platform"`

	// CredentialsFile persists the device identity and session token
	// issued at device registration.
	CredentialsFile string `yaml:"credentials_file"`

	// FrameInterval is the screen frame production cadence while a
	// viewer is attached.
	FrameInterval Duration `yaml:"frame_interval"`

	// ReconnectDelay is the fixed delay between relay reconnect
	// attempts.
	ReconnectDelay Duration `yaml:"reconnect_delay"`

	// ICEServers are STUN/TURN URLs for peer connection establishment.
	ICEServers []string `yaml:"ice_servers"`

	// AutoAccept makes the agent accept incoming connection requests
	// without consulting an approver. Headless hosts set this.
	AutoAccept bool `yaml:"auto_accept"`
}

// DefaultRelay returns the relay defaults applied before the config
// file is decoded.
func DefaultRelay() *Relay {
	return &Relay{
		Listen:            ":8470",
		MetricsListen:     "",
		DatabasePath:      "farview.db",
		AccountTokenTTL:   Duration(30 * 24 * time.Hour),
		DeviceTokenTTL:    Duration(365 * 24 * time.Hour),
		WriteTimeout:      Duration(10 * time.Second),
		PingInterval:      Duration(30 * time.Second),
		OutboundQueueSize: 64,
	}
}

// DefaultAgent returns the agent defaults.
func DefaultAgent() *Agent {
	return &Agent{
		ServerURL:       "http://localhost:8470",
		SocketURL:       "ws://localhost:8470/ws",
		DeviceName:      defaultDeviceName(),
		Platform:        runtime.GOOS,
		CredentialsFile: "farview-device.yaml",
		FrameInterval:   Duration(100 * time.Millisecond),
		ReconnectDelay:  Duration(5 * time.Second),
		ICEServers:      []string{"stun:stun.l.google.com:19302"},
	}
}

// LoadRelay loads relay configuration from path, applying defaults
// and the environment override for the signing key. An empty path
// returns the defaults.
func LoadRelay(path string) (*Relay, error) {
	cfg := DefaultRelay()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if key := os.Getenv("FARVIEW_TOKEN_SIGNING_KEY"); key != "" {
		cfg.TokenSigningKey = key
	}
	if cfg.OutboundQueueSize <= 0 {
		return nil, fmt.Errorf("config: outbound_queue_size must be positive")
	}
	return cfg, nil
}

// LoadAgent loads agent configuration from path, applying defaults.
// An empty path returns the defaults.
func LoadAgent(path string) (*Agent, error) {
	cfg := DefaultAgent()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.FrameInterval <= 0 {
		return nil, fmt.Errorf("config: frame_interval must be positive")
	}
	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("config: reconnect_delay must be positive")
	}
	return cfg, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func defaultDeviceName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "farview-device"
	}
	return hostname
}
