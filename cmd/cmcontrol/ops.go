package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cmcontrol-device/internal/apontamento"
	"github.com/nerrad567/cmcontrol-device/internal/cmcontrol"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/config"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// evidenceFlags collects evidence attachments from the command line.
type evidenceFlags struct {
	files      []string
	texts      []string
	descricao  string
	observacao string
}

func (e *evidenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&e.files, "evidence-file", nil, "attach a file as evidence (repeatable)")
	cmd.Flags().StringArrayVar(&e.texts, "evidence-text", nil, "attach text as evidence, NAME.EXT=TEXT (repeatable)")
	cmd.Flags().StringVar(&e.descricao, "evidence-desc", "", "description for every attached evidence")
	cmd.Flags().StringVar(&e.observacao, "evidence-obs", "", "observation for every attached evidence")
}

func (e *evidenceFlags) build() ([]protocol.Evidence, error) {
	out := make([]protocol.Evidence, 0, len(e.files)+len(e.texts))
	for _, path := range e.files {
		ev, err := protocol.EvidenceFromFile(path, e.descricao)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	for _, arg := range e.texts {
		name, text, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: --evidence-text must be NAME.EXT=TEXT", protocol.ErrInvalidArgument)
		}
		ext := filepath.Ext(name)
		ev, err := protocol.TextEvidence(strings.TrimSuffix(name, ext), ext, text, e.descricao)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if e.observacao != "" {
		for i := range out {
			out[i] = out[i].WithObservacao(e.observacao)
		}
	}
	return out, nil
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var logout bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the MQTT+REST proxy and print the bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.withClient(cmd.Context(), func(ctx context.Context, c *cmcontrol.Client, _ *config.Config) error {
				token, err := c.LoginOAuth2(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				if !logout {
					return nil
				}
				resp, err := c.LogoutOAuth2(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.ErrOrStderr(), resp)
			})
		},
	}
	cmd.Flags().BoolVar(&logout, "logout", false, "revoke the token after printing it")
	return cmd
}

func newApontarCmd(flags *globalFlags) *cobra.Command {
	var ev evidenceFlags
	cmd := &cobra.Command{
		Use:   "apontar SERIAL [SERIAL...]",
		Short: "Check in a serial; several serials are linked in one apontamento",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evidencias, err := ev.build()
			if err != nil {
				return err
			}
			return flags.withClient(cmd.Context(), func(ctx context.Context, c *cmcontrol.Client, _ *config.Config) error {
				var resp protocol.Response
				if len(args) == 1 {
					resp, err = c.ApontarSerial(ctx, args[0], evidencias...)
				} else {
					resp, err = c.ApontarVinculo(ctx, args, evidencias...)
				}
				return printResult(cmd, resp, err)
			})
		},
	}
	ev.register(cmd)
	return cmd
}

func newLoteCmd(flags *globalFlags) *cobra.Command {
	var (
		delay       time.Duration
		stopOnError bool
	)
	cmd := &cobra.Command{
		Use:   "lote SERIAL...",
		Short: "Check in each serial with its own request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(cmd.Context(), func(ctx context.Context, c *cmcontrol.Client, cfg *config.Config) error {
				opts := apontamento.BatchOptions{Delay: cfg.GetBatchDelay(), StopOnError: cfg.Batch.StopOnError}
				if cmd.Flags().Changed("delay") {
					opts.Delay = delay
				}
				if cmd.Flags().Changed("stop-on-error") {
					opts.StopOnError = stopOnError
				}

				results := c.ApontarLoteWith(ctx, args, opts)
				out := cmd.OutOrStdout()
				for _, r := range results {
					switch {
					case r.Skipped:
						fmt.Fprintf(out, "%s\tSKIPPED\t%v\n", r.Serial, r.Err)
					case r.Err != nil:
						fmt.Fprintf(out, "%s\tFAIL\t%v\n", r.Serial, r.Err)
					default:
						fmt.Fprintf(out, "%s\tOK\t%s\n", r.Serial, r.Response.Log())
					}
				}
				ok, failed, skipped := apontamento.Summarize(results)
				fmt.Fprintf(out, "ok=%d failed=%d skipped=%d\n", ok, failed, skipped)
				if failed > 0 || skipped > 0 {
					return fmt.Errorf("%w: %d of %d serials not checked in", protocol.ErrApontamento, failed+skipped, len(results))
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "minimum spacing between requests (default batch.delay_ms)")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "skip the remaining serials after a failure (default batch.stop_on_error)")
	return cmd
}

func newValidarRotaCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validar-rota SERIAL",
		Short: "Validate the route of a serial without checking it in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(cmd.Context(), func(ctx context.Context, c *cmcontrol.Client, _ *config.Config) error {
				resp, err := c.ValidarRota(ctx, args[0])
				return printResult(cmd, resp, err)
			})
		},
	}
}

func newOrdemTransporteCmd(flags *globalFlags) *cobra.Command {
	var acao string
	cmd := &cobra.Command{
		Use:   "ordem-transporte CODIGO",
		Short: "Apply an action to a transport order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(cmd.Context(), func(ctx context.Context, c *cmcontrol.Client, _ *config.Config) error {
				resp, err := c.OrdemTransporte(ctx, args[0], acao)
				return printResult(cmd, resp, err)
			})
		},
	}
	cmd.Flags().StringVar(&acao, "acao", protocol.AcaoApontarTransporte, "APONTAR_TRANSPORTE or ADICIONAR_TRANSPORTE")
	return cmd
}

func newPayloadCmd(flags *globalFlags) *cobra.Command {
	var (
		device string
		kind   string
		acao   string
		ev     evidenceFlags
	)
	cmd := &cobra.Command{
		Use:   "payload ARG...",
		Short: "Print the setup.apontamento payload without connecting",
		Long: "Builds the setup for --kind serial (one serial), vinculo (several serials), " +
			"rota (one serial) or ordem (one transport order code) and prints the JSON " +
			"that would be sent as the envelope's data.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if device == "" {
				cfg, _, err := flags.loadConfig()
				if err != nil {
					return err
				}
				device = cfg.Device.Address
			}
			evidencias, err := ev.build()
			if err != nil {
				return err
			}
			setup, err := buildSetup(kind, device, acao, args, evidencias)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), setup)
		},
	}
	cmd.Flags().StringVar(&device, "device", os.Getenv("CMC_DEVICE_ADDR"), "device address (default from config)")
	cmd.Flags().StringVar(&kind, "kind", "serial", "serial, vinculo, rota or ordem")
	cmd.Flags().StringVar(&acao, "acao", protocol.AcaoApontarTransporte, "transport order action for --kind ordem")
	ev.register(cmd)
	return cmd
}

// buildSetup builds the payload printed by the payload command.
func buildSetup(kind, device, acao string, args []string, evidencias []protocol.Evidence) (protocol.Setup, error) {
	single := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%w: --kind %s takes exactly one argument", protocol.ErrInvalidArgument, kind)
		}
		return args[0], nil
	}
	switch kind {
	case "serial":
		serial, err := single()
		if err != nil {
			return protocol.Setup{}, err
		}
		return apontamento.NewSerialSetup(device, serial, evidencias...)
	case "vinculo":
		return apontamento.NewVinculoSetup(device, args, evidencias...)
	case "rota":
		serial, err := single()
		if err != nil {
			return protocol.Setup{}, err
		}
		return apontamento.NewValidarRotaSetup(device, serial)
	case "ordem":
		codigo, err := single()
		if err != nil {
			return protocol.Setup{}, err
		}
		return apontamento.NewOrdemTransporteSetup(device, codigo, acao)
	default:
		return protocol.Setup{}, fmt.Errorf("%w: unknown --kind %q", protocol.ErrInvalidArgument, kind)
	}
}

// printResult prints the CmControl response, or the response behind a
// rejection, before returning err.
func printResult(cmd *cobra.Command, resp protocol.Response, err error) error {
	if err != nil {
		var re *protocol.ResponseError
		if errors.As(err, &re) && re.Raw != nil {
			_ = printJSON(cmd.OutOrStdout(), re.Raw)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}
