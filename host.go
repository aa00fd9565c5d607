package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"netpong/directory"
	"netpong/metrics"
)

func hostCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the directory host",
		Long: `Run the directory host that pairs masters with slaves and keeps the
shared highscore table.

Highscores are kept in S3 when --s3-bucket is set, otherwise in a JSON file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHost(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&a.flags.HTTPAddr, "http", "", "serve the admin API (/highscores, /pairings, /metrics, /ws) on this address")
	cmd.Flags().StringVar(&a.flags.HighscoreFile, "highscore-file", "highscores.json", "JSON file holding the highscore table, empty keeps it in memory")
	cmd.Flags().StringVar(&a.flags.S3Bucket, "s3-bucket", "", "S3 bucket holding the highscore table")

	return cmd
}

func (a *app) store(ctx context.Context) (directory.Store, error) {
	cfg := a.cfg
	switch {
	case cfg.S3Bucket != "":
		a.logger.Info("highscores in S3", "bucket", cfg.S3Bucket, "key", cfg.S3Key)
		return directory.NewS3StoreFromEnv(ctx, cfg.S3Bucket, cfg.S3Key)
	case cfg.HighscoreFile != "":
		a.logger.Info("highscores in file", "path", cfg.HighscoreFile)
		return directory.NewFileStore(cfg.HighscoreFile), nil
	default:
		a.logger.Info("highscores in memory")
		return directory.NewMemoryStore(), nil
	}
}

func (a *app) runHost(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.store(ctx)
	if err != nil {
		return err
	}

	h := directory.NewHost(fmt.Sprintf(":%d", a.cfg.Port), store)
	h.Timeout = a.cfg.Timeout()
	h.Logger = a.logger.With("component", "directory")
	h.Metrics = a.metrics

	if a.cfg.HTTPAddr != "" {
		go a.serveHTTP(ctx, a.cfg.HTTPAddr, h.Router(a.reg))
	}
	if a.cfg.MetricsAddr != "" && a.cfg.MetricsAddr != a.cfg.HTTPAddr {
		go a.serveHTTP(ctx, a.cfg.MetricsAddr, metrics.Handler(a.reg))
	}
	return h.ListenAndServe(ctx)
}
