// CmControl device client.
//
// cmcontrol connects to the CmControl MQTT broker as one production device,
// answers ping and state events, logs in through the MQTT+REST proxy and
// sends apontamentos. "cmcontrol run" keeps the device online and serves the
// local HTTP API; the other commands perform one operation and exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// getConfigPath returns the configuration file path.
// Priority: CMCONTROL_CONFIG env var, then the default path if it exists.
// An empty path means defaults plus environment only.
func getConfigPath() string {
	if path := os.Getenv("CMCONTROL_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
