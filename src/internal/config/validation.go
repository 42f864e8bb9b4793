// FILE: src/internal/config/validation.go
package config

import (
	"encoding/base64"
	"fmt"
	"net"

	"mongowire/src/internal/core"
)

func (c *Config) validate() error {
	if c.Server.Address != "" {
		if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
			return fmt.Errorf("invalid server address %q: %w", c.Server.Address, err)
		}
	}
	if c.Server.ConnectTimeoutMs < 0 || c.Server.ReadTimeoutMs < 0 || c.Server.WriteTimeoutMs < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if c.Auth.Mechanism != "" && c.Auth.Mechanism != core.Mechanism {
		return fmt.Errorf("unsupported mechanism %q, only %s is supported", c.Auth.Mechanism, core.Mechanism)
	}

	if c.Simulation != nil {
		if err := c.Simulation.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulationConfig) validate() error {
	if s.Listen != "" {
		if _, _, err := net.SplitHostPort(s.Listen); err != nil {
			return fmt.Errorf("invalid simulation listen address %q: %w", s.Listen, err)
		}
	}
	if s.MaxFailuresPerMinute < 0 {
		return fmt.Errorf("simulation max_failures_per_minute must not be negative")
	}

	for _, user := range s.Users {
		if user.Username == "" {
			return fmt.Errorf("simulation user with empty username")
		}
		if user.Iterations < 1 {
			return fmt.Errorf("simulation user %q: iterations must be at least 1", user.Username)
		}
		salt, err := base64.StdEncoding.DecodeString(user.Salt)
		if err != nil {
			return fmt.Errorf("simulation user %q: invalid base64 salt: %w", user.Username, err)
		}
		if len(salt) < 16 {
			return fmt.Errorf("simulation user %q: salt must be at least 16 bytes", user.Username)
		}
		for field, value := range map[string]string{
			"stored_key": user.StoredKey,
			"server_key": user.ServerKey,
		} {
			key, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return fmt.Errorf("simulation user %q: invalid base64 %s: %w", user.Username, field, err)
			}
			if len(key) != core.SHA1KeyLen {
				return fmt.Errorf("simulation user %q: %s must be %d bytes", user.Username, field, core.SHA1KeyLen)
			}
		}
	}
	return nil
}
