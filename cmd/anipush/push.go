package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anipush/anipush/internal/event"
	"github.com/anipush/anipush/internal/server"
)

var pushSource string

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Run one push cycle for a source",
	Long: `Processes the most recent unsent record for the given source and
delivers it. Episode updates wait out the merge window before sending.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPush(pushSource)
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushSource, "source", "", "Source to process: anirss or emby")
	_ = pushCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(pushCmd)
}

func runPush(source string) error {
	src := event.Source(source)
	if !src.Valid() {
		return fmt.Errorf("unknown source %q (want anirss or emby)", source)
	}

	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer db.Close()

	pipe, buf, err := server.NewRunner(db, cfg, logger).BuildPipeline(nil)
	if err != nil {
		return err
	}
	defer buf.Stop()

	ctx := context.Background()
	if err := pipe.Run(ctx, src); err != nil {
		return err
	}

	// Buffered episode updates flush after the quiet window; wait for
	// them so a one-shot invocation still delivers.
	deadline := time.Now().Add(cfg.Push.DebounceWindow() + 5*time.Second)
	for buf.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
