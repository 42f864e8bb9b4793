// FILE: src/cmd/mongowire/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lixenwraith/log"
	"golang.org/x/term"

	"mongowire/src/internal/auth"
	"mongowire/src/internal/config"
	"mongowire/src/internal/simsrv"
	"mongowire/src/internal/transport"
	"mongowire/src/internal/version"
)

var logger *log.Logger

func main() {
	flagCfg, err := ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if flagCfg.ShowVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if flagCfg.ConfigFile != "" {
		os.Setenv("MONGOWIRE_CONFIG_FILE", flagCfg.ConfigFile)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}
	applyFlagOverrides(cfg, flagCfg)

	if err := initializeLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer shutdownLogger()

	logger.Info("msg", "mongowire starting",
		"version", version.String(),
		"config_file", flagCfg.ConfigFile,
		"serve", flagCfg.Serve)

	if flagCfg.Serve {
		os.Exit(runServe(cfg))
	}
	os.Exit(runProbe(cfg))
}

// runServe hosts the simulation server until interrupted.
func runServe(cfg *config.Config) int {
	if cfg.Simulation == nil {
		logger.Error("msg", "No simulation section in config")
		return 2
	}

	srv, err := simsrv.New(cfg.Simulation, logger)
	if err != nil {
		logger.Error("msg", "Failed to build simulation server", "error", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		logger.Error("msg", "Failed to start simulation server", "error", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("msg", "Shutting down", "signal", sig.String())
	srv.Stop()
	return 0
}

// runProbe dials the configured server and authenticates once.
func runProbe(cfg *config.Config) int {
	user := cfg.Auth.Username
	if user == "" {
		fmt.Fprintln(os.Stderr, "Username required (-user or auth.username)")
		return 2
	}

	password := os.Getenv("MONGOWIRE_PASSWORD")
	if password == "" {
		password = promptPassword(fmt.Sprintf("Password for %s: ", user))
	}

	conn, err := transport.Dial(cfg.Server.Address, transport.Options{
		ConnectTimeout: time.Duration(cfg.Server.ConnectTimeoutMs) * time.Millisecond,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Error("msg", "Connection failed",
			"address", cfg.Server.Address,
			"error", err)
		return 1
	}
	defer conn.Close()

	err = auth.New(conn, cfg.Auth.Source, logger).Authenticate(user, password)
	if err != nil {
		var malicious *auth.MaliciousServerError
		if errors.As(err, &malicious) {
			logger.Error("msg", "SECURITY: server failed identity check",
				"address", cfg.Server.Address,
				"error", err)
			fmt.Fprintf(os.Stderr, "Authentication aborted, server may be compromised: %v\n", err)
			return 4
		}

		logger.Error("msg", "Authentication failed",
			"address", cfg.Server.Address,
			"username", user,
			"error", err)
		fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
		return 3
	}

	logger.Info("msg", "Authentication succeeded",
		"address", cfg.Server.Address,
		"username", user)
	fmt.Printf("OK: authenticated %s against %s\n", user, cfg.Server.Address)
	return 0
}

func applyFlagOverrides(cfg *config.Config, fc *FlagConfig) {
	if fc.Address != "" {
		cfg.Server.Address = fc.Address
	}
	if fc.Username != "" {
		cfg.Auth.Username = fc.Username
	}
	if fc.Source != "" {
		cfg.Auth.Source = fc.Source
	}
	if cfg.Logging == nil {
		cfg.Logging = config.DefaultLogConfig()
	}
	if fc.LogOutput != "" {
		cfg.Logging.Output = fc.LogOutput
	}
	if fc.LogLevel != "" {
		cfg.Logging.Level = fc.LogLevel
	}
}

// initializeLogger sets up the logger based on configuration
func initializeLogger(cfg *config.Config) error {
	logger = log.NewLogger()

	levelValue, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	configArgs := []string{fmt.Sprintf("level=%d", levelValue)}

	switch cfg.Logging.Output {
	case "none":
		configArgs = append(configArgs, "disable_file=true", "enable_stdout=false")

	case "stdout":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stdout")

	case "stderr", "":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stderr")

	case "file":
		configArgs = append(configArgs, "enable_stdout=false")
		configureFileLogging(&configArgs, cfg)

	case "both":
		configArgs = append(configArgs,
			"enable_stdout=true",
			fmt.Sprintf("stdout_target=%s", consoleTarget(cfg)))
		configureFileLogging(&configArgs, cfg)

	default:
		return fmt.Errorf("invalid log output mode: %s", cfg.Logging.Output)
	}

	if err := logger.ApplyConfigString(configArgs...); err != nil {
		return err
	}
	return logger.Start()
}

func configureFileLogging(configArgs *[]string, cfg *config.Config) {
	file := cfg.Logging.File
	if file == nil {
		return
	}
	*configArgs = append(*configArgs,
		fmt.Sprintf("directory=%s", file.Directory),
		fmt.Sprintf("name=%s", file.Name),
		fmt.Sprintf("max_size_mb=%d", file.MaxSizeMB))
}

func consoleTarget(cfg *config.Config) string {
	if cfg.Logging.Console != nil && cfg.Logging.Console.Target != "" {
		return cfg.Logging.Console.Target
	}
	return "stderr"
}

func shutdownLogger() {
	if logger != nil {
		if err := logger.Shutdown(2 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Logger shutdown error: %v\n", err)
		}
	}
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
		os.Exit(1)
	}
	return string(password)
}
