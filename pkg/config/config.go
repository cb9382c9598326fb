// Package config defines the application configuration and loads it from
// defaults and environment variables.
package config

import "time"

// Config is the root configuration tree.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Backend BackendConfig `koanf:"backend"`
	Remote  RemoteConfig  `koanf:"remote"`
	Pool    PoolConfig    `koanf:"pool"`
	Server  ServerConfig  `koanf:"server"`
}

// LogConfig controls application logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	// JSON switches output to JSON lines.
	JSON bool `koanf:"json"`
	// Ops selects operation log verbosity: standard logs only modifying
	// operations, verbose logs everything, off disables the log.
	Ops string `koanf:"ops" validate:"omitempty,oneof=standard verbose off"`
}

// BackendConfig selects and tunes the workspace backend.
type BackendConfig struct {
	// Type is local, remote, or memory.
	Type string `koanf:"type" validate:"omitempty,oneof=local remote memory"`
	// RootDir is the workspace boundary.
	RootDir string `koanf:"root_dir" validate:"required"`
	// Isolation is auto, namespace, software, or none.
	Isolation string `koanf:"isolation" validate:"omitempty,oneof=auto namespace software none"`
	// Shell is auto, bash, or sh.
	Shell string `koanf:"shell" validate:"omitempty,oneof=auto bash sh"`
	// PreventDangerous keeps the command classifier on.
	PreventDangerous bool `koanf:"prevent_dangerous"`
	// MaxOutputBytes caps captured exec output.
	MaxOutputBytes int64 `koanf:"max_output_bytes" validate:"min=0"`
	// OpTimeout bounds each backend operation.
	OpTimeout time.Duration `koanf:"op_timeout"`
}

// RemoteConfig carries the SSH connection settings used when the backend
// type is remote.
type RemoteConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port" validate:"min=0,max=65535"`
	User      string `koanf:"user"`
	AuthToken string `koanf:"auth_token"`

	DialTimeout       time.Duration `koanf:"dial_timeout"`
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`

	ReconnectMaxRetries   uint64        `koanf:"reconnect_max_retries"`
	ReconnectInitialDelay time.Duration `koanf:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `koanf:"reconnect_max_delay"`
}

// PoolConfig tunes the backend pool.
type PoolConfig struct {
	IdleTTL         time.Duration `koanf:"idle_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	DrainTimeout    time.Duration `koanf:"drain_timeout"`
}

// ServerConfig tunes the MCP server surface.
type ServerConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// Default returns the built-in configuration values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			Ops:   "standard",
		},
		Backend: BackendConfig{
			Type:             "local",
			RootDir:          "./workspace",
			Isolation:        "auto",
			Shell:            "auto",
			PreventDangerous: true,
			MaxOutputBytes:   10 * 1024 * 1024,
			OpTimeout:        2 * time.Minute,
		},
		Remote: RemoteConfig{
			Port:                  22,
			DialTimeout:           10 * time.Second,
			KeepaliveInterval:     30 * time.Second,
			ReconnectMaxRetries:   5,
			ReconnectInitialDelay: time.Second,
			ReconnectMaxDelay:     30 * time.Second,
		},
		Pool: PoolConfig{
			IdleTTL:         10 * time.Minute,
			CleanupInterval: time.Minute,
			DrainTimeout:    10 * time.Second,
		},
		Server: ServerConfig{
			Name:    "agent-backend",
			Version: "0.1.0",
		},
	}
}
