// Package types defines the core domain types shared by the agent packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// DefaultTailBytes is the amount of existing content sent on startup
// when neither from_start nor an explicit tail size is given.
const DefaultTailBytes uint64 = 64 * 1024

// AgentConfig is the resolved, immutable input to the agent core.
// It is produced by the CLI layer; the core never mutates it.
type AgentConfig struct {
	// ServiceName identifies the shipping service in the handshake (required).
	ServiceName string `json:"service_name" yaml:"service_name"`
	// ServerAddr is the collector address in host:port form (required).
	ServerAddr string `json:"server_addr" yaml:"server_addr"`
	// FilePath is the monitored log file (required).
	FilePath string `json:"file_path" yaml:"file_path"`
	// DeviceID identifies the host. The CLI defaults it to the hostname.
	DeviceID string `json:"device_id" yaml:"device_id"`
	// FromStart streams the whole existing file. Takes precedence over TailBytes.
	FromStart bool `json:"from_start" yaml:"from_start"`
	// TailBytes is how much existing content to send on startup.
	// Zero skips all existing content.
	TailBytes uint64 `json:"tail_bytes" yaml:"tail_bytes"`
	// Verbose enables debug-level diagnostics.
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// Validate checks required fields and the server address syntax.
// All failures are configuration errors.
func (c *AgentConfig) Validate() error {
	if c.ServiceName == "" {
		return NewConfigError("service_name", errors.New("must be non-empty"))
	}
	if c.FilePath == "" {
		return NewConfigError("file_path", errors.New("must be non-empty"))
	}
	if c.DeviceID == "" {
		return NewConfigError("device_id", errors.New("must be non-empty"))
	}
	if err := ValidateServerAddr(c.ServerAddr); err != nil {
		return NewConfigError("server_addr", err)
	}
	return nil
}

// ValidateServerAddr checks that addr is a host:port pair with a numeric port.
// Name resolution is deferred to connect time.
func ValidateServerAddr(addr string) error {
	if addr == "" {
		return errors.New("must be non-empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid host:port %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("missing host in %q", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// ConfigError is a fatal configuration failure. The agent does not
// enter its run loop when one is returned.
type ConfigError struct {
	// Field names the offending setting.
	Field string
	// Err is the underlying cause.
	Err error
}

// NewConfigError creates a ConfigError.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError returns true if err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
