// FILE: src/internal/config/config.go
package config

import (
	"mongowire/src/internal/core"
)

type Config struct {
	Server     ServerConfig      `toml:"server"`
	Auth       AuthConfig        `toml:"auth"`
	Logging    *LogConfig        `toml:"logging"`
	Simulation *SimulationConfig `toml:"simulation"`
}

type ServerConfig struct {
	// Address of the command server, host:port
	Address string `toml:"address"`

	ConnectTimeoutMs int64 `toml:"connect_timeout_ms"`
	ReadTimeoutMs    int64 `toml:"read_timeout_ms"`
	WriteTimeoutMs   int64 `toml:"write_timeout_ms"`
}

type AuthConfig struct {
	Username string `toml:"username"`

	// Database authentication commands run against; read once at call
	// time, defaults to "admin"
	Source string `toml:"source"`

	// Mechanism pin; only SCRAM-SHA-1 is supported
	Mechanism string `toml:"mechanism"`
}

// SimulationConfig drives the built-in simulation server.
type SimulationConfig struct {
	Listen string `toml:"listen"`

	// Failed-attempt limiting per remote IP
	MaxFailuresPerMinute int64 `toml:"max_failures_per_minute"`

	Users []SimulationUser `toml:"users"`
}

// SimulationUser is a pre-derived SCRAM-SHA-1 credential; auth-gen
// prints entries in this shape. No plaintext passwords live in config.
type SimulationUser struct {
	Username   string `toml:"username"`
	Salt       string `toml:"salt"` // base64
	Iterations int64  `toml:"iterations"`
	StoredKey  string `toml:"stored_key"` // base64
	ServerKey  string `toml:"server_key"` // base64
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address:          "127.0.0.1:27017",
			ConnectTimeoutMs: 10000,
			ReadTimeoutMs:    30000,
			WriteTimeoutMs:   10000,
		},
		Auth: AuthConfig{
			Source:    core.DefaultAuthSource,
			Mechanism: core.Mechanism,
		},
		Logging: DefaultLogConfig(),
		Simulation: &SimulationConfig{
			Listen:               "127.0.0.1:27017",
			MaxFailuresPerMinute: 10,
		},
	}
}
