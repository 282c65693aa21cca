package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fetchcore/fetchcore/internal/utils"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List persisted downloads",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fatalf("Error: could not open job database: %v", err)
		}
		defer store.Close()

		jobs, err := store.ListAll()
		if err != nil {
			fatalf("Error: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tPROGRESS\tOUTPUT")
		for _, job := range jobs {
			progress := "-"
			if job.TotalSize > 0 {
				progress = fmt.Sprintf("%d%% (%s / %s)",
					job.Downloaded*100/job.TotalSize,
					utils.ConvertBytesToHumanReadable(job.Downloaded),
					utils.ConvertBytesToHumanReadable(job.TotalSize))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", job.ID, job.Filename, job.Status, progress, job.OutputPath)
		}
		w.Flush()
	},
}
