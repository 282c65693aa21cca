package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fetchcore/fetchcore/internal/core"
	"github.com/fetchcore/fetchcore/internal/model"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a previously interrupted download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		store, err := openStore()
		if err != nil {
			fatalf("Error: could not open job database: %v", err)
		}
		defer store.Close()

		startTime := time.Now()
		job, err := core.Resume(context.Background(), args[0], core.Options{
			Config: cfg,
			Store:  store,
			OnProgress: func(snap model.Snapshot, sample model.ProgressSample) {
				if sample.Total <= 0 {
					return
				}
				percent := sample.Downloaded * 100 / sample.Total
				fmt.Fprintf(os.Stderr, "\r  %s: %d%%", snap.Filename, percent)
			},
		})
		if err != nil {
			fatalf("Error: %v", err)
		}

		snap := job.Snapshot()
		switch snap.Status {
		case model.StatusCompleted:
			fmt.Printf("\nComplete: %s in %s -> %s\n", snap.Filename, time.Since(startTime).Round(time.Millisecond), snap.OutputPath)
		case model.StatusFailed:
			fmt.Fprintf(os.Stderr, "\nFailed: %v\n", snap.Error)
			os.Exit(1)
		}
	},
}
