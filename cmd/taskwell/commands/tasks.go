package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrenlabs/taskwell/task"
)

// LsCmd lists tasks.
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
	Long: `List tasks, newest first.

Example:
  taskwell ls                  # All tasks
  taskwell ls --status wait    # Only waiting tasks
  taskwell ls --limit 10       # Most recent 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		var filter *task.Status
		if name, _ := cmd.Flags().GetString("status"); name != "" {
			status, err := parseStatus(name)
			if err != nil {
				return err
			}
			filter = &status
		}
		limit, _ := cmd.Flags().GetInt("limit")

		tasks, err := store.List(filter, limit)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks")
			return nil
		}

		fmt.Printf("%-12s  %-8s  %-8s  %-20s  %s\n", "ID", "STATUS", "ATTEMPTS", "PLAN", "TITLE")
		for _, t := range tasks {
			fmt.Printf("%-12s  %-8s  %-8d  %-20s  %s\n",
				shortID(t.ID), t.Status, t.Attempts,
				t.PlanTime.Format("2006-01-02 15:04:05"), t.Title)
		}
		return nil
	},
}

// ShowCmd shows one task with its log stream.
var ShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and its log stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		t, err := resolveTask(store, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:       %s\n", t.ID)
		fmt.Printf("Title:    %s\n", t.Title)
		fmt.Printf("Command:  %s\n", t.Command)
		fmt.Printf("Status:   %s\n", t.Status)
		fmt.Printf("Attempts: %d\n", t.Attempts)
		fmt.Printf("Plan:     %s\n", t.PlanTime.Format(time.RFC3339))
		if t.LoopSeconds > 0 {
			fmt.Printf("Loop:     every %ds\n", t.LoopSeconds)
		}
		if t.StartTime != nil {
			fmt.Printf("Started:  %s\n", t.StartTime.Format(time.RFC3339))
		}
		if t.EndTime != nil {
			fmt.Printf("Ended:    %s\n", t.EndTime.Format(time.RFC3339))
		}
		if d, ok := t.Duration(); ok {
			fmt.Printf("Duration: %v\n", d)
		}
		if t.EndTime != nil {
			fmt.Printf("Success:  %t\n", t.Success)
		}
		if t.Remark != "" {
			fmt.Printf("Remark:   %s\n", t.Remark)
		}
		if t.Result != "" {
			fmt.Printf("Result:   %s\n", t.Result)
		}

		lines, err := task.NewLogStore(conn).Lines(task.LogID(t.ID))
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			fmt.Printf("\nLog:\n")
			for _, line := range lines {
				if line.Progress != nil {
					fmt.Printf("  %s  %s (%d/%d)\n",
						line.CreatedAt.Format("15:04:05"), line.Message,
						line.Progress.Current, line.Progress.Total)
				} else {
					fmt.Printf("  %s  %s\n", line.CreatedAt.Format("15:04:05"), line.Message)
				}
			}
		}
		return nil
	},
}

// StatsCmd prints task counts and runner liveness.
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show task counts and runner status",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		stats, err := store.GetStats()
		if err != nil {
			return err
		}

		fmt.Printf("Tasks:    %d total\n", stats.Total)
		fmt.Printf("  waiting:  %d\n", stats.Waiting)
		fmt.Printf("  started:  %d\n", stats.Started)
		fmt.Printf("  again:    %d\n", stats.Again)
		fmt.Printf("  complete: %d\n", stats.Complete)

		marker, err := task.NewHeartbeat(conn).GetRunning(2 * cfg.Runner.PollInterval())
		if err != nil {
			return err
		}
		if marker != nil {
			fmt.Printf("Runner:   alive (pid %d, %s, last beat %s)\n",
				marker.PID, marker.Service, marker.Time.Format(time.RFC3339))
		} else {
			fmt.Printf("Runner:   not running\n")
		}
		return nil
	},
}

// ResetCmd makes a task claimable again.
var ResetCmd = &cobra.Command{
	Use:   "reset <task-id>",
	Short: "Make a task claimable again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		t, err := resolveTask(store, args[0])
		if err != nil {
			return err
		}
		if err := store.Reset(t.ID); err != nil {
			return err
		}
		fmt.Printf("Task %s reset\n", shortID(t.ID))
		return nil
	},
}

// RmCmd deletes a task record.
var RmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		t, err := resolveTask(store, args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(t.ID); err != nil {
			return err
		}
		fmt.Printf("Task %s deleted\n", shortID(t.ID))
		return nil
	},
}

// CleanCmd runs the maintenance sweep once.
var CleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Reset abandoned tasks and delete old history",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		reset, deleted, err := store.Clean(cfg.Runner.ResetTimeout(), cfg.Runner.DeleteAfter())
		if err != nil {
			return err
		}
		fmt.Printf("Clean complete: %d reset, %d deleted\n", reset, deleted)
		return nil
	},
}

// DownloadCmd streams a completed task's result to a file or stdout.
var DownloadCmd = &cobra.Command{
	Use:   "download <task-id>",
	Short: "Download a completed task's result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		t, err := resolveTask(store, args[0])
		if err != nil {
			return err
		}

		filename, _ := cmd.Flags().GetString("output")
		rc, err := store.OpenResult(t.ID, filename, "application/octet-stream")
		if err != nil {
			return err
		}
		defer rc.Close()

		out := os.Stdout
		if filename != "" && filename != "-" {
			f, err := os.Create(filename)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		if _, err := io.Copy(out, rc); err != nil {
			return err
		}
		if out != os.Stdout {
			fmt.Printf("Saved to %s\n", filename)
		}
		return nil
	},
}

func init() {
	LsCmd.Flags().String("status", "", "Filter by status (wait, started, complete, again)")
	LsCmd.Flags().Int("limit", 50, "Maximum number of tasks to list")
	DownloadCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
}

func parseStatus(name string) (task.Status, error) {
	for _, s := range []task.Status{task.StatusWait, task.StatusStarted, task.StatusComplete, task.StatusAgain} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q (expected wait, started, complete or again)", name)
}

// resolveTask finds a task by full id or unique short prefix.
func resolveTask(store *task.Store, id string) (*task.Task, error) {
	if t, err := store.Get(id); err == nil {
		return t, nil
	}

	tasks, err := store.List(nil, 0)
	if err != nil {
		return nil, err
	}

	var match *task.Task
	for _, t := range tasks {
		if len(id) >= 4 && len(id) < len(t.ID) && t.ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("task id prefix %q is ambiguous", id)
			}
			match = t
		}
	}
	if match == nil {
		return nil, fmt.Errorf("task %q not found", id)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
