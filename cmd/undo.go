package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/thriftstack/listing-cli/internal/undo"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert a recent generation or regroup operation",
	Long:  "Restores item fields (or image grouping) from the snapshot captured before the last mutating operation. Snapshots live in the serve process, so these commands forward to it. Snapshots are single-level and expire after the configured TTL.",
}

var undoSingleCmd = &cobra.Command{
	Use:   "single <item-id>",
	Short: "Restore one item's pre-generation field values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := callServer(cmd.Context(), http.MethodPost, "/undo/single/"+args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Restored item %s\n", args[0])
		return nil
	},
}

var undoBulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Restore every item from the last bulk generation snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := callServer(cmd.Context(), http.MethodPost, "/undo/bulk")
		if err != nil {
			return err
		}
		return printUndoResult(body)
	},
}

var undoStructuralCmd = &cobra.Command{
	Use:   "structural",
	Short: "Restore image grouping from the last regroup snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := callServer(cmd.Context(), http.MethodPost, "/undo/structural")
		if err != nil {
			return err
		}
		return printUndoResult(body)
	},
}

func printUndoResult(body []byte) error {
	var res undo.BulkUndoResult
	if err := json.Unmarshal(body, &res); err != nil {
		return eris.Wrap(err, "cmd: decode undo result")
	}
	fmt.Fprintf(os.Stdout, "Restored: %d\nFailed: %d\n", res.Restored, res.Failed)
	return nil
}

func init() {
	undoCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "serve process base URL (default http://localhost:<server.port>)")
	undoCmd.AddCommand(undoSingleCmd)
	undoCmd.AddCommand(undoBulkCmd)
	undoCmd.AddCommand(undoStructuralCmd)
	rootCmd.AddCommand(undoCmd)
}
