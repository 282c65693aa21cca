package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fetchcore/fetchcore/internal/model"
	"github.com/fetchcore/fetchcore/internal/state"
)

// Version is set via ldflags during build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "fetchcore",
	Short:   "A concurrent, resumable segmented HTTP downloader",
	Long:    `fetchcore probes a URL, chooses between segmented and streaming fetch, and assembles the result with live progress.`,
	Version: Version,
}

func defaultDBPath() string {
	dir := os.Getenv("HOME")
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, ".fetchcore", "jobs.db")
}

func openStore() (*state.SQLiteStore, error) {
	path := defaultDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return state.Open(path)
}

func loadConfig() model.Config {
	cfg := model.DefaultConfig()
	return cfg
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.SetVersionTemplate("fetchcore version {{.Version}}\n")
}
