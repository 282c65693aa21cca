package utils

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
)

// DetermineFilename derives a filename for a response following spec §6's
// ordered rules: Content-Disposition filename, then filename* (RFC 5987,
// percent-decoded), then the URL's last path segment, then "download".
// respHeader may be nil when no response headers are available (e.g. the
// descriptor already named the file). sniff is a sample of the first bytes
// of the body (may be empty), used only to add a missing extension from
// magic bytes.
func DetermineFilename(rawurl string, respHeader http.Header, sniff []byte) string {
	var candidate string

	if respHeader != nil {
		if _, name, err := httpheader.ContentDisposition(respHeader); err == nil && name != "" {
			candidate = name
		}
	}

	if candidate == "" {
		if parsed, err := url.Parse(rawurl); err == nil {
			path, decodeErr := url.PathUnescape(parsed.Path)
			if decodeErr != nil {
				path = parsed.Path
			}
			candidate = filepath.Base(path)
		}
	}

	filename := sanitizeFilename(candidate)

	if filename == "" || filename == "." || filename == "/" {
		filename = "download"
	}

	if filepath.Ext(filename) == "" && len(sniff) > 0 {
		if kind, _ := filetype.Match(sniff); kind != filetype.Unknown && kind.Extension != "" {
			filename = filename + "." + kind.Extension
		}
	}

	return filename
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return name
	}
	name = strings.TrimSpace(name)
	for _, r := range []string{":", "*", "?", "\"", "<", ">", "|"} {
		name = strings.ReplaceAll(name, r, "_")
	}
	return name
}
