package model

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds the options the engine reads once at construction (spec
// §6). It is never loaded from disk or environment by this package — that
// is the surrounding system's job; a caller builds one (or starts from
// DefaultConfig) and passes it in.
type Config struct {
	DownloadDir            string
	MaxConcurrentDownloads int
	ThreadsPerDownload     int
	ChunkSize              int64
	Timeout                time.Duration
	MaxRetries             int
	UserAgent              string
	EnabledPlugins         []string
}

// DefaultConfig mirrors the defaults of the original macdl.config.Config
// dataclass this specification was distilled from.
func DefaultConfig() Config {
	dir := os.Getenv("HOME")
	if dir == "" {
		dir = "."
	}
	return Config{
		DownloadDir:            filepath.Join(dir, "Downloads"),
		MaxConcurrentDownloads: 3,
		ThreadsPerDownload:     8,
		ChunkSize:              1 << 20, // 1 MiB
		Timeout:                30 * time.Second,
		MaxRetries:             3,
		UserAgent:              "fetchcore/0.1",
		EnabledPlugins:         []string{"http"},
	}
}
