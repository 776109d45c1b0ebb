package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roadmate/roadmate/internal/agent"
)

var compactCheck bool

var compactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Fold a session's uncompacted events into its summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompact,
}

func init() {
	compactCmd.Flags().BoolVar(&compactCheck, "check", false, "Only compact when the threshold is reached")
}

func runCompact(_ *cobra.Command, args []string) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	ctx := context.Background()
	sessionID := args[0]
	compactor := container.Compactor()

	if compactCheck {
		res, err := compactor.CheckAndCompact(ctx, sessionID)
		if err != nil {
			return err
		}
		if res == nil {
			fmt.Printf("Session %s is below the threshold of %d events.\n",
				sessionID, compactor.Threshold())
			return nil
		}
		return printCompaction(*res)
	}

	return printCompaction(compactor.ForceCompact(ctx, sessionID))
}

func printCompaction(res agent.CompactionResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("compaction failed: %s", res.Error)
	}
	return nil
}
