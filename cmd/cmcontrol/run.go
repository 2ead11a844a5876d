package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/cmcontrol-device/internal/api"
	"github.com/nerrad567/cmcontrol-device/internal/cmcontrol"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/database"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/influxdb"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/metrics"
	"github.com/nerrad567/cmcontrol-device/internal/journal"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the device online and serve the local API",
		Long: "Connects to the broker, announces the device online, answers ping and state " +
			"events, logs in when API credentials are configured and serves the HTTP API " +
			"until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
}

// run is the long-running device process. It returns nil on a clean
// shutdown after ctx is cancelled.
func run(ctx context.Context, flags *globalFlags) error {
	cfg, log, err := flags.loadConfig()
	if err != nil {
		return err
	}
	log.Info("starting CmControl device client",
		"version", version,
		"commit", commit,
		"build_date", date,
		"device", cfg.Device.Address,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []cmcontrol.Option{
		cmcontrol.WithLogger(log),
		cmcontrol.WithMetrics(metrics.New(reg)),
	}

	// Journal (optional)
	var (
		journalDB   *database.DB
		journalRepo journal.Repository
	)
	if cfg.Journal.Enabled {
		db, repo, openErr := journal.Open(ctx, database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening journal: %w", openErr)
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		journalDB, journalRepo = db, repo
		opts = append(opts, cmcontrol.WithJournal(repo))
		log.Info("journal opened", "path", cfg.Journal.Path)
	} else {
		log.Info("journal disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB, cfg.Device.Address)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		opts = append(opts, cmcontrol.WithInflux(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	client, err := cmcontrol.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Error("error disconnecting", "error", err)
		}
	}()

	if cfg.HasAPICredentials() {
		if err := client.EnsureLogin(ctx); err != nil {
			log.Warn("initial login failed; retrying on first operation", "error", err)
		}
	} else {
		log.Info("no API credentials configured; apontamentos disabled until set")
	}

	// HTTP API (optional)
	if cfg.HTTP.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:   cfg.HTTP,
			Logger:   log,
			Device:   client,
			Events:   client.Diagnostics(),
			Journal:  journalRepo,
			DB:       journalDB,
			Gatherer: reg,
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if err := srv.Close(); err != nil {
				log.Error("error closing API server", "error", err)
			}
		}()
	}

	log.Info("device online", "client_id", client.ClientID())
	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}
