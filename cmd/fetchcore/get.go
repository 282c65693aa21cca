package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fetchcore/fetchcore/internal/core"
	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/utils"
)

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		outPath, _ := cmd.Flags().GetString("output")
		threads, _ := cmd.Flags().GetInt("threads")
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			utils.EnableDebug(true)
		}

		cfg := loadConfig()
		if threads > 0 {
			cfg.ThreadsPerDownload = threads
		}

		store, err := openStore()
		if err != nil {
			fatalf("Error: could not open job database: %v", err)
		}
		defer store.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "\nCancelling...")
			cancel()
		}()

		startTime := time.Now()
		var lastPercent int64

		jobs, err := core.Download(ctx, args[0], outPath, core.Options{
			Config:     cfg,
			NumThreads: threads,
			Store:      store,
			OnProgress: func(snap model.Snapshot, sample model.ProgressSample) {
				if sample.Total <= 0 {
					return
				}
				percent := sample.Downloaded * 100 / sample.Total
				if percent/10 > lastPercent/10 {
					fmt.Fprintf(os.Stderr, "  %s: %d%% (%s) - %.2f MB/s\n",
						snap.Filename, percent, utils.ConvertBytesToHumanReadable(sample.Downloaded),
						sample.SpeedBPS/(1024*1024))
				}
				lastPercent = percent
			},
		})
		if err != nil {
			fatalf("Error: %v", err)
		}

		for _, job := range jobs {
			snap := job.Snapshot()
			elapsed := time.Since(startTime)
			switch snap.Status {
			case model.StatusCompleted:
				fmt.Printf("Complete: %s (%s) in %s -> %s\n", snap.Filename,
					utils.ConvertBytesToHumanReadable(snap.Downloaded), elapsed.Round(time.Millisecond), snap.OutputPath)
			case model.StatusFailed:
				fmt.Fprintf(os.Stderr, "Failed: %s: %v\n", snap.Filename, snap.Error)
				os.Exit(1)
			case model.StatusCancelled:
				fmt.Fprintf(os.Stderr, "Cancelled: %s (job id %s)\n", snap.Filename, snap.ID)
				os.Exit(130)
			}
		}
	},
}

func init() {
	getCmd.Flags().StringP("output", "o", "", "output directory or file path")
	getCmd.Flags().IntP("threads", "t", 0, "number of parallel segment fetchers (0 = configured default)")
	getCmd.Flags().BoolP("verbose", "v", false, "enable debug logging")
}
