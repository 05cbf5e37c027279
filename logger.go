// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpurt

import (
	"log/slog"

	"github.com/gogpu/gpurt/internal/rtlog"
)

// SetLogger configures the logger for gpurt and all its sub-packages.
// By default, gpurt produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gpurt:
//   - [slog.LevelDebug]: pump iterations, snapshot reclaim runs, submissions
//   - [slog.LevelInfo]: runtime open and close
//   - [slog.LevelWarn]: queue pool exhaustion, leaked resources at close
//
// Example:
//
//	gpurt.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	rtlog.Set(l)
}

// Logger returns the current logger used by gpurt.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return rtlog.Logger()
}
