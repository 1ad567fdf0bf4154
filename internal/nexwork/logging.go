package nexwork

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger builds the process logger at level on w. A debugLog path
// additionally appends every record to that file; the returned func closes
// it.
func NewLogger(w io.Writer, level, debugLog string) (*log.Logger, func() error, error) {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.WarnLevel
	}
	closer := func() error { return nil }
	out := w
	if debugLog != "" {
		if err := os.MkdirAll(filepath.Dir(debugLog), 0o755); err != nil {
			return nil, closer, err
		}
		f, err := os.OpenFile(debugLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, closer, err
		}
		closer = f.Close
		out = io.MultiWriter(w, f)
	}
	logger := log.NewWithOptions(out, log.Options{
		Prefix:          "nexwork",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl,
	})
	return logger, closer, nil
}
