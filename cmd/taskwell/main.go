package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wrenlabs/taskwell/cmd/taskwell/commands"
	"github.com/wrenlabs/taskwell/logger"
)

var rootCmd = &cobra.Command{
	Use:   "taskwell",
	Short: "taskwell - asynchronous task queue",
	Long: `taskwell - database-backed asynchronous task queue.

Tasks are content-addressed: enqueueing identical work twice collapses
to one record. A runner process polls the database, claims eligible
tasks under a transaction and executes their registered handlers.

Examples:
  taskwell run                 # Start the runner in foreground
  taskwell ls                  # List tasks
  taskwell show <id>           # Show one task with its log stream
  taskwell reset <id>          # Make a task claimable again
  taskwell clean               # Run the maintenance sweep once`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides configuration)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.ShowCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.ResetCmd)
	rootCmd.AddCommand(commands.RmCmd)
	rootCmd.AddCommand(commands.CleanCmd)
	rootCmd.AddCommand(commands.DownloadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
