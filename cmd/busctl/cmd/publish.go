package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zeusync/pocketbus/internal/injector"
)

var publishCmd = &cobra.Command{
	Use:   "publish <topic> <json>",
	Short: "Publish one JSON event to a topic",
	Long: `Publish connects to the broker, sends a single event and disconnects.
Delivery is fire-and-forget: subscribers that are not connected yet miss it.

Examples:
  busctl publish orders.created '{"id": 42}'
  busctl publish heartbeat null`,
	Args: cobra.ExactArgs(2),
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	topic := args[0]
	var payload any
	if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, cleanup, err := injector.InitializeClient(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := app.Client.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Client.Stop(cfg.Client.StopTimeout) }()

	return app.Client.Publish(ctx, topic, payload)
}
