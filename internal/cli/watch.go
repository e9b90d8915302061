package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowatch/flowatch/internal/monitor"
)

var (
	watchWorkflowFile string
	watchTimeout      time.Duration
	watchStreamLogs   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Trigger a workflow run and monitor it to completion",
	Long: `Watch starts monitoring one invocation of the configured workflow and
blocks until every function reaches a final status, the run deadline elapses,
or an interrupt arrives. The exit code is zero only if every function either
completed or was legitimately never invoked.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchWorkflowFile, "workflow", "w", "", "workflow definition file (overrides config)")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "run deadline (overrides config)")
	watchCmd.Flags().BoolVar(&watchStreamLogs, "stream", false, "stream function log lines to the console")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if watchWorkflowFile != "" {
		cfg.Workflow.File = watchWorkflowFile
	}
	if watchTimeout > 0 {
		cfg.Monitor.Timeout = watchTimeout
	}
	if watchStreamLogs {
		cfg.Monitor.StreamLogs = true
	}
	if cfg.Workflow.File == "" {
		return fmt.Errorf("no workflow file configured; set workflow.file or pass --workflow")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := monitor.TriggerWorkflow(ctx, cfg)
	if err != nil {
		return err
	}
	defer runner.Cleanup()

	ticker := time.NewTicker(cfg.Monitor.CheckInterval)
	defer ticker.Stop()

loop:
	for !runner.MonitoringComplete() {
		select {
		case <-ctx.Done():
			log.Warn().Msg("Interrupt received, shutting down")
			if !runner.Shutdown(0) {
				log.Warn().Msg("Monitoring did not stop cleanly, forcing shutdown")
				runner.ForceShutdown()
			}
			break loop
		case <-ticker.C:
		}
	}

	printSummary(runner)

	statuses := runner.GetFunctionStatuses()
	for name, status := range statuses {
		if !status.Succeeded() {
			return fmt.Errorf("workflow %s finished with outcome %s (%s: %s)",
				runner.Graph().Name(), runner.Outcome(), name, status)
		}
	}
	return nil
}

func printSummary(runner *monitor.Runner) {
	statuses := runner.GetFunctionStatuses()

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\nWorkflow: %s\n", runner.Graph().Name())
	fmt.Printf("Invocation: %s\n", runner.InvocationID())
	fmt.Printf("Outcome: %s\n\n", runner.Outcome())

	for _, name := range names {
		fmt.Printf("  %-32s %s\n", name, statuses[name])
	}
	fmt.Println()
}
