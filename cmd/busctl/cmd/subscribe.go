package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zeusync/pocketbus/internal/core/events/bus"
	"github.com/zeusync/pocketbus/internal/injector"
)

var subscribePriority int

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <pattern>...",
	Short: "Print every event matching one or more glob patterns",
	Long: `Subscribe prints one JSON line per matching event until interrupted.
Patterns use shell-style globs: * ? [abc] [a-z] [!abc]. Other characters are literal.

Examples:
  busctl subscribe 'orders.*'
  busctl subscribe 'orders.*' 'payments.[!p]*'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubscribe,
}

func init() {
	subscribeCmd.Flags().IntVar(&subscribePriority, "priority", 0, "handler priority; lower runs first")
}

type printedEvent struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, cleanup, err := injector.InitializeClient(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	enc := json.NewEncoder(cmd.OutOrStdout())
	printEvent := func(_ context.Context, topic string, payload any) (bus.Result, error) {
		return bus.Continue, enc.Encode(printedEvent{Topic: topic, Payload: payload})
	}
	for _, p := range args {
		if _, err := app.Client.Subscribe(p, printEvent, bus.WithPriority(subscribePriority)); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Client.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return app.Client.Stop(cfg.Client.StopTimeout)
}
