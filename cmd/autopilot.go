package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var autopilotIDs []string

var autopilotCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Manage end-to-end autopilot runs",
	Long:  "Starts, stops, and observes autopilot runs. The heavy lifting happens in an external worker; these commands create runs, bind items, and watch status.",
}

var autopilotStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an autopilot run (or resume the active one)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("autopilot"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.Runner.Start(ctx, autopilotIDs)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Run %s: %s (%d/%d items)\n",
			run.ID, run.Status, run.ProcessedCards, run.TotalCards)
		return nil
	},
}

var autopilotStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Watch a run until it leaves the running state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.Runner.Poll(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

var autopilotStopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a run and revert mid-flight items to draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Runner.Stop(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Run %s stopped\n", args[0])
		return nil
	},
}

var autopilotApproveCmd = &cobra.Command{
	Use:   "approve <item-id>...",
	Short: "Approve reviewed items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.Runner.Approve(ctx, args)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Approved %d item(s)\n", n)
		return nil
	},
}

var autopilotDraftCmd = &cobra.Command{
	Use:   "draft <item-id>...",
	Short: "Send items back to draft, clearing review state",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.Runner.SendToDraft(ctx, args)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent %d item(s) to draft\n", n)
		return nil
	},
}

func init() {
	autopilotStartCmd.Flags().StringSliceVar(&autopilotIDs, "ids", nil, "item ids to run (default: all new items)")

	autopilotCmd.AddCommand(autopilotStartCmd)
	autopilotCmd.AddCommand(autopilotStatusCmd)
	autopilotCmd.AddCommand(autopilotStopCmd)
	autopilotCmd.AddCommand(autopilotApproveCmd)
	autopilotCmd.AddCommand(autopilotDraftCmd)
	rootCmd.AddCommand(autopilotCmd)
}
