package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeusync/pocketbus/internal/config"
)

var (
	configPath string
	envFiles   []string
	publisher  string
	subscriber string
	identity   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "busctl",
	Short: "Publish to and subscribe on the event bus",
	Long: `busctl is a command-line client for the event bus broker.

Available commands:
  publish      Publish one JSON event to a topic
  subscribe    Print every event matching one or more glob patterns

Use "busctl [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	flags.StringVar(&publisher, "publisher", "", "broker publisher frontend, e.g. ws://127.0.0.1:5559")
	flags.StringVar(&subscriber, "subscriber", "", "broker subscriber frontend, e.g. ws://127.0.0.1:5560")
	flags.StringVar(&identity, "identity", "", "client identity used in logs")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(publishCmd, subscribeCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{Path: configPath, EnvFiles: envFiles})
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("publisher") {
		cfg.Client.PublisherAddr = publisher
	}
	if flags.Changed("subscriber") {
		cfg.Client.SubscriberAddr = subscriber
	}
	if flags.Changed("identity") {
		cfg.Client.Identity = identity
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return cfg, nil
}
