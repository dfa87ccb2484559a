package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect scan tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan tasks",
	Long: `List every scan task in the state store.

The store is opened directly, so the daemon must be stopped first.`,
	RunE: runTaskList,
}

func init() {
	taskCmd.AddCommand(taskListCmd)

	taskListCmd.Flags().String("config", "", "Path to YAML config file")
	taskListCmd.Flags().String("state-dir", "", "Directory for database and runtime state")

	rootCmd.AddCommand(taskCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %v", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSCANNER\tLAST REPORT")
	for _, t := range tasks {
		if t.Hidden != 0 {
			continue
		}
		last := t.LastReportID
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Status, t.ScannerID, last)
	}
	return w.Flush()
}
