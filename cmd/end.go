package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var endCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "Run a final compaction and mark the session completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		container, err := openContainer()
		if err != nil {
			return err
		}
		defer container.Close()

		res, err := container.Assistant().EndSession(context.Background(), args[0])
		if err != nil {
			return err
		}
		if res.Warning != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", res.Warning)
		}
		fmt.Printf("✓ Session %s completed (%d events compacted, compaction #%d)\n",
			args[0], res.EventsCompacted, res.CompactionCount)
		return nil
	},
}
