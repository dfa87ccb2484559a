package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/client"
	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream controller events",
	Long: `Stream controller events from the running daemon as they happen.

--types narrows the stream to a set of event types, for example
--types task.done,feed.sync.finished. Runs until interrupted.`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().String("address", config.DefaultBrokerAddress, "Daemon HTTP surface address")
	eventsCmd.Flags().StringSlice("types", nil, "Event types to include (default all)")
	eventsCmd.Flags().Bool("json", false, "Print raw JSON lines instead of formatted output")

	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("address")
	kinds, _ := cmd.Flags().GetStringSlice("types")
	raw, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	enc := json.NewEncoder(os.Stdout)
	err := client.New(addr).Events(ctx, kinds, func(e events.Event) error {
		if raw {
			return enc.Encode(e)
		}
		line := fmt.Sprintf("%s  %-24s", e.Timestamp.Format("15:04:05"), e.Type)
		if e.TaskID != "" {
			line += "  task=" + e.TaskID
		}
		if e.ReportID != "" {
			line += "  report=" + e.ReportID
		}
		if e.Message != "" {
			line += "  " + e.Message
		}
		fmt.Println(line)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
