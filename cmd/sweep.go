package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var sweepOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "End idle sessions on a schedule, forcing their final compaction",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")
}

func runSweep(_ *cobra.Command, _ []string) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sw := container.Sweeper()

	if sweepOnce {
		report, err := sw.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Ended %d idle sessions (%d failed)\n", report.Ended, report.Failed)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Start(gctx) })

	fmt.Printf("%s Sweeper running (%s). Press Ctrl+C to stop.\n", logo, appConfig.Sweeper.Schedule)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "sweeper error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
