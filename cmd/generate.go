package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thriftstack/listing-cli/internal/enrich"
)

var generateIDs []string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one batch of bulk listing generation",
	Long:  "Generates listing fields for eligible items. Without --ids, processes one batch of new items; pass --ids to force regeneration of a selection. Re-run until remaining reaches zero.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("generate"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Orch.GenerateBulk(ctx, enrich.BulkOptions{Selection: generateIDs})
		if err != nil {
			return err
		}

		formatBulkResult(os.Stdout, res)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry the items that failed in the last generation run",
	Long:  "Forwards a retry request to the serve process, which holds the failure records from the last run. The retry executes asynchronously; results appear in the serve logs and in item state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := callServer(cmd.Context(), http.MethodPost, "/webhook/retry"); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Retry accepted; check the serve process for results.")
		return nil
	},
}

func init() {
	generateCmd.Flags().StringSliceVar(&generateIDs, "ids", nil, "item ids to regenerate (forces regeneration)")
	retryCmd.Flags().StringVar(&serverAddr, "server", "", "serve process base URL (default http://localhost:<server.port>)")
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(retryCmd)
}

func formatBulkResult(out io.Writer, res *enrich.BulkResult) {
	if res.AlreadyRunning {
		fmt.Fprintln(out, "A bulk generation is already in progress; nothing processed.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Succeeded:\t%d\n", res.SuccessCount)
	fmt.Fprintf(w, "Failed:\t%d\n", res.ErrorCount)
	fmt.Fprintf(w, "Skipped:\t%d\n", res.SkippedCount)
	fmt.Fprintf(w, "Remaining:\t%d\n", res.Remaining)
	w.Flush()

	if res.Halted {
		fmt.Fprintf(out, "\nHalted early: %s\n", res.HaltReason)
	}
	if len(res.Failures) > 0 {
		fmt.Fprintln(out, "\nFailures:")
		fw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, f := range res.Failures {
			fmt.Fprintf(fw, "  %s\t%s\t%s\n", f.ItemID, f.Label, f.Reason)
		}
		fw.Flush()
	}
}
