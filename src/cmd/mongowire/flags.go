// FILE: src/cmd/mongowire/flags.go
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lixenwraith/log"
)

// FlagConfig holds parsed command-line flags
type FlagConfig struct {
	ConfigFile  string
	ShowVersion bool
	Serve       bool

	Address  string
	Username string
	Source   string

	LogOutput string
	LogLevel  string
}

func ParseFlags() (*FlagConfig, error) {
	fc := &FlagConfig{}

	flag.StringVar(&fc.ConfigFile, "config", "", "Config file path")
	flag.BoolVar(&fc.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&fc.Serve, "serve", false, "Run the simulation server instead of probing")

	flag.StringVar(&fc.Address, "addr", "", "Server address host:port (overrides config)")
	flag.StringVar(&fc.Username, "user", "", "Username to authenticate (overrides config)")
	flag.StringVar(&fc.Source, "source", "", "Authentication database (overrides config)")

	flag.StringVar(&fc.LogOutput, "log-output", "", "Log output: file, stdout, stderr, both, none (overrides config)")
	flag.StringVar(&fc.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	flag.Usage = customUsage
	flag.Parse()

	return fc, nil
}

func customUsage() {
	fmt.Fprintf(os.Stderr, "mongowire - SCRAM-SHA-1 authentication probe and simulation server\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()

	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  # Authenticate against a server, prompting for the password\n")
	fmt.Fprintf(os.Stderr, "  %s -addr 127.0.0.1:27017 -user alice\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "  # Run the simulation server from a config file\n")
	fmt.Fprintf(os.Stderr, "  %s -serve -config ./mongowire.toml\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "Environment Variables:\n")
	fmt.Fprintf(os.Stderr, "  MONGOWIRE_CONFIG_FILE    Config file path\n")
	fmt.Fprintf(os.Stderr, "  MONGOWIRE_PASSWORD       Password (prompted when unset)\n")
}

func parseLogLevel(level string) (int, error) {
	switch level {
	case "debug":
		return int(log.LevelDebug), nil
	case "info", "":
		return int(log.LevelInfo), nil
	case "warn":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
