package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zeusync/pocketbus/internal/config"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/injector"
)

var (
	configPath  string
	envFiles    []string
	publisher   string
	subscriber  string
	metricsAddr string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the event bus broker",
	Long: `Broker binds a publisher frontend and a subscriber frontend and forwards
every published message to the subscribers whose prefixes match its topic.

Settings come from the YAML file given with --config, then from EVENTBUS_*
environment variables (optionally loaded from --env-file), then from flags.

Examples:
  broker                                            # ws://*:5559 and ws://*:5560
  broker --publisher quic://*:5559 --subscriber quic://*:5560
  broker --config broker.yaml --metrics-addr :9102`,
	SilenceUsage: true,
	RunE:         runBroker,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	rootCmd.Flags().StringVar(&publisher, "publisher", "", "publisher frontend endpoint, e.g. ws://*:5559")
	rootCmd.Flags().StringVar(&subscriber, "subscriber", "", "subscriber frontend endpoint, e.g. ws://*:5560")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this host:port")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func runBroker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, cleanup, err := injector.InitializeBroker(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Broker.MetricsAddr != "" {
		srv := serveMetrics(cfg.Broker.MetricsAddr, app.Logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := app.Broker.Run(ctx); err != nil {
		app.Logger.Error("Broker exited", log.Error(err))
		return err
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{Path: configPath, EnvFiles: envFiles})
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("publisher") {
		cfg.Broker.PublisherAddr = publisher
	}
	if flags.Changed("subscriber") {
		cfg.Broker.SubscriberAddr = subscriber
	}
	if flags.Changed("metrics-addr") {
		cfg.Broker.MetricsAddr = metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return cfg, nil
}

func serveMetrics(addr string, logger log.Log) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", log.Error(err))
		}
	}()
	logger.Info("Serving metrics", log.String("addr", addr))
	return srv
}
