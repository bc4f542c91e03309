package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFileName = "scrumpoker.log"

// setupLogger points the global logger at w.
func setupLogger(w io.Writer, level zerolog.Level, noColor bool) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: noColor}).
		With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)
}

// logToFile sends logs to the state dir while the TUI owns the terminal.
// The returned func closes the file.
func logToFile(dir string, level zerolog.Level) (func(), error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	setupLogger(f, level, true)
	return func() {
		f.Close() //nolint:errcheck
	}, nil
}
