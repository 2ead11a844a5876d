package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cmcontrol-device/internal/cmcontrol"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/config"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/logging"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// Exit codes. Scripts driving one-shot commands can tell a rejected
// apontamento from an unreachable broker.
const (
	exitError      = 1
	exitConfig     = 2
	exitConnection = 3
	exitLogin      = 4
	exitRejected   = 5
	exitTimeout    = 6
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "cmcontrol",
		Short:         "CmControl MQTT device client",
		Long:          "Connects to CmControl as a production device over MQTT and sends apontamentos through the MQTT+REST proxy.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", getConfigPath(), "YAML config file (env CMCONTROL_CONFIG)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before the environment overrides")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(flags),
		newLoginCmd(flags),
		newApontarCmd(flags),
		newLoteCmd(flags),
		newValidarRotaCmd(flags),
		newOrdemTransporteCmd(flags),
		newPayloadCmd(flags),
	)
	return root
}

// loadConfig reads the configuration and builds the logger.
func (f *globalFlags) loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadWithEnvFile(f.configPath, f.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", protocol.ErrConfig, err)
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// withClient loads the configuration, connects a client, runs fn and
// disconnects. One-shot commands use it.
func (f *globalFlags) withClient(ctx context.Context, fn func(ctx context.Context, c *cmcontrol.Client, cfg *config.Config) error) error {
	cfg, log, err := f.loadConfig()
	if err != nil {
		return err
	}

	client, err := cmcontrol.New(cfg, cmcontrol.WithLogger(log))
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout()+5*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Warn("disconnect failed", "error", err)
		}
	}()

	return fn(ctx, client, cfg)
}

// printJSON writes v indented, followed by a newline.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, protocol.ErrConfig), errors.Is(err, protocol.ErrInvalidArgument):
		return exitConfig
	case errors.Is(err, protocol.ErrLogin):
		return exitLogin
	case errors.Is(err, protocol.ErrApontamento), errors.Is(err, protocol.ErrAPI):
		return exitRejected
	case errors.Is(err, protocol.ErrTimeout):
		return exitTimeout
	case errors.Is(err, protocol.ErrConnection), errors.Is(err, protocol.ErrNotConnected), errors.Is(err, protocol.ErrDisconnected):
		return exitConnection
	default:
		return exitError
	}
}
