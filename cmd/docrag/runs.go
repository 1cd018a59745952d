package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docrag/internal/runstore"
)

var (
	runsProject string
	runsState   string
	runsLimit   int
	runsPrune   time.Duration
	runsRetry   string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List, retry or prune pipeline runs",
	Long: `Lists recorded pipeline runs, newest first. Runs are only kept across
invocations when database.runs_path is configured.`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVarP(&runsProject, "project", "p", "", "only runs for this project")
	runsCmd.Flags().StringVar(&runsState, "state", "", "only runs in this state (e.g. failed)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to list")
	runsCmd.Flags().DurationVar(&runsPrune, "prune", 0, "remove finished runs older than this duration")
	runsCmd.Flags().StringVar(&runsRetry, "retry", "", "resume the failed run with this ID and wait for it")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()

	if runsPrune > 0 {
		n, err := a.runs.Prune(ctx, time.Now().Add(-runsPrune))
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		cmd.Printf("Pruned %d runs\n", n)
		return nil
	}

	if runsRetry != "" {
		if err := a.orch.Retry(ctx, runsRetry); err != nil {
			return fmt.Errorf("retry failed: %w", err)
		}
		run, err := a.orch.Wait(ctx, runsRetry)
		if err != nil {
			return err
		}
		printRun(cmd, run)
		return nil
	}

	runs, err := a.orch.Runs(ctx, runstore.Filter{
		ProjectName: runsProject,
		State:       runstore.State(runsState),
		Limit:       runsLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}
	for _, run := range runs {
		printRun(cmd, run)
	}
	return nil
}

func printRun(cmd *cobra.Command, run *runstore.Run) {
	cmd.Printf("%s  %-8s %s/%s", run.ID, run.State, run.ProjectName, run.FilePath)
	if run.FailedStage != "" {
		cmd.Printf("  failed at %s: %s", run.FailedStage, run.Reason)
	} else if run.Reason != "" {
		cmd.Printf("  (%s)", run.Reason)
	}
	cmd.Println()

	counts := run.Counts()
	if len(run.Elements) > 0 {
		cmd.Printf("    elements: %d indexed, %d skipped, %d failed\n",
			counts[runstore.StateIndexed], counts[runstore.StateSkipped], counts[runstore.StateFailed])
	}
}
