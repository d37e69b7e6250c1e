package logger

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// LevelEnvVar sets the log level when --log-level is not given.
const LevelEnvVar = "QAUTILS_LOG_LEVEL"

// FlagConfig holds the logging flags of the command line.
type FlagConfig struct {
	Level  string
	JSON   bool
	Source bool
	// File appends log output to a file instead of stderr.
	File string
}

// AddFlags registers the logging flags on flags.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("log-level", string(InfoLevel), "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source code location in logs")
	flags.String("log-file", "", "Append logs to this file instead of stderr")
}

// GetLoggerConfig reads the flags registered by AddFlags. The level falls
// back to LevelEnvVar when the flag was not set.
func GetLoggerConfig(flags *pflag.FlagSet) (FlagConfig, error) {
	var cfg FlagConfig
	var err error
	if cfg.Level, err = flags.GetString("log-level"); err != nil {
		return cfg, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if !flags.Changed("log-level") {
		if level, ok := os.LookupEnv(LevelEnvVar); ok && level != "" {
			cfg.Level = level
		}
	}
	if cfg.JSON, err = flags.GetBool("log-json"); err != nil {
		return cfg, fmt.Errorf("failed to get log-json flag: %w", err)
	}
	if cfg.Source, err = flags.GetBool("log-source"); err != nil {
		return cfg, fmt.Errorf("failed to get log-source flag: %w", err)
	}
	if cfg.File, err = flags.GetString("log-file"); err != nil {
		return cfg, fmt.Errorf("failed to get log-file flag: %w", err)
	}
	return cfg, nil
}

// SetupLogger installs the process default logger described by cfg and
// returns it with a function that releases the log file, if any.
func SetupLogger(cfg FlagConfig) (Logger, func() error, error) {
	logConfig := &Config{
		Level:      ParseLevel(cfg.Level),
		Output:     os.Stderr,
		JSON:       cfg.JSON,
		AddSource:  cfg.Source,
		TimeFormat: "15:04:05",
	}
	release := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logConfig.Output = f
		// the default logger goes back to stderr once the file is closed
		release = func() error {
			Init(&Config{
				Level:      logConfig.Level,
				Output:     os.Stderr,
				JSON:       logConfig.JSON,
				AddSource:  logConfig.AddSource,
				TimeFormat: logConfig.TimeFormat,
			})
			return f.Close()
		}
	}
	Init(logConfig)
	return GetDefault(), release, nil
}
