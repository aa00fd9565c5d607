package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"netpong/config"
	"netpong/metrics"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// app carries what every subcommand shares.
type app struct {
	envFile string
	flags   config.Config
	cfg     *config.Config

	logger  *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netpong",
		Short: "Two-player pong over the local network",
		Long: `netpong finds an opponent on the local network with UDP broadcasts,
registers the match with a directory host and keeps both games in step
over a small TCP peer link.

Examples:
  netpong play --role master
  netpong play --role slave --server 192.168.0.10
  netpong host --http :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	def := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.envFile, "env-file", config.DefaultEnvFile, "dotenv file with NETPONG_* settings")
	pf.IntVarP(&a.flags.Port, "port", "p", def.Port, "shared UDP discovery and TCP port")
	pf.IntVar(&a.flags.PeerPort, "peer-port", def.PeerPort, "TCP port of the opponent's peer link (default: --port)")
	pf.StringVar(&a.flags.Server, "server", def.Server, "directory host address")
	pf.StringVar(&a.flags.Addr, "addr", def.Addr, "own IPv4 address (default: first non-loopback interface)")
	pf.IntVarP(&a.flags.TimeoutMS, "timeout", "t", def.TimeoutMS, "socket timeout in milliseconds, <= 0 disables it")
	pf.StringVar(&a.flags.LogLevel, "log-level", def.LogLevel, "debug, info, warn or error")
	pf.StringVar(&a.flags.MetricsAddr, "metrics", def.MetricsAddr, "serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		playCmd(a),
		hostCmd(a),
		versionCmd(),
	)
	return rootCmd
}

// setup loads configuration (defaults, env file, environment, then flags
// that were set explicitly) and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = a.flags.Port
	}
	if flags.Changed("peer-port") {
		cfg.PeerPort = a.flags.PeerPort
	}
	if flags.Changed("server") {
		cfg.Server = a.flags.Server
	}
	if flags.Changed("addr") {
		cfg.Addr = a.flags.Addr
	}
	if flags.Changed("timeout") {
		cfg.TimeoutMS = a.flags.TimeoutMS
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.LogLevel
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = a.flags.MetricsAddr
	}
	if flags.Changed("name") {
		cfg.Name = a.flags.Name
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = a.flags.HTTPAddr
	}
	if flags.Changed("highscore-file") {
		cfg.HighscoreFile = a.flags.HighscoreFile
	}
	if flags.Changed("s3-bucket") {
		cfg.S3Bucket = a.flags.S3Bucket
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(a.logger)

	a.reg = prometheus.NewRegistry()
	a.metrics = metrics.New(a.reg)
	return nil
}
