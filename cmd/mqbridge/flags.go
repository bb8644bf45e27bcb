package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("MQBRIDGE_CONFIG", ""),
		"Path to configuration file (env: MQBRIDGE_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("MQBRIDGE_CONFIG", ""),
		"Path to configuration file (env: MQBRIDGE_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("MQBRIDGE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: MQBRIDGE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("MQBRIDGE_LOG_FORMAT", "json"),
		"Log format: json, text (env: MQBRIDGE_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp
	flag.Parse()

	return cfg
}

func printHelp() {
	_, _ = fmt.Fprintf(os.Stderr, "%s - bridge broker messages into a document store\n\nUsage:\n  %s [flags]\n\nFlags:\n", appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a config file
  %s --config=/etc/mqbridge/bridge.json

  # Run with environment variables only
  export MQBRIDGE_BROKER_URL=nats://broker:4222
  export MQBRIDGE_BROKER_SUBJECTS=openScaleSync.measurements.last
  export MQBRIDGE_BROKER_DELIVERY_MODE=jetstream
  export MQBRIDGE_BROKER_STREAM=SCALE
  export MQBRIDGE_STORE_URI=mongodb://store:27017
  %s

  # Validate configuration and exit
  %s --config=/etc/mqbridge/bridge.json --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
