package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/client"
	"github.com/vigilsec/vigil/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and scanner status",
	Long: `Show the running daemon's health and readiness, and the
reachability of every configured scanner.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("address", config.DefaultBrokerAddress, "Daemon HTTP surface address")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("address")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := client.New(addr)

	healthStatus, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %v", addr, err)
	}
	ready, err := c.Ready(ctx)
	if err != nil {
		return fmt.Errorf("failed to read readiness: %v", err)
	}

	fmt.Printf("Daemon: %s", healthStatus.Status)
	if healthStatus.Version != "" {
		fmt.Printf(" (version %s)", healthStatus.Version)
	}
	fmt.Println()
	if healthStatus.Uptime != "" {
		fmt.Printf("Uptime: %s\n", healthStatus.Uptime)
	}
	fmt.Printf("Ready:  %s\n", ready.Status)
	if ready.Message != "" {
		fmt.Printf("  %s\n", ready.Message)
	}

	scanners, err := c.Scanners(ctx)
	if err != nil {
		return fmt.Errorf("failed to read scanner status: %v", err)
	}
	fmt.Println()
	if len(scanners) == 0 {
		fmt.Println("No scanners configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SCANNER\tKIND\tREACHABLE\tDETAIL")
	for _, st := range scanners {
		reach := "yes"
		if !st.Reachable {
			reach = "no"
		}
		detail := st.Message
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, st.Kind, reach, detail)
	}
	return w.Flush()
}
