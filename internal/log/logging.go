// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package log // import "github.com/glink-ld/glink/internal/log"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// globalLogger holds a reference to the [slog.Logger] used within
// github.com/glink-ld/glink.
//
// The default logger logs to stderr and shows messages at the Info level.
var globalLogger = func() *atomic.Pointer[slog.Logger] {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	p := new(atomic.Pointer[slog.Logger])
	p.Store(l)
	return p
}()

// SetLogger sets the global Logger to l.
func SetLogger(l slog.Logger) {
	globalLogger.Store(&l)
}

// SetDebugLogger configures the global logger to write debug-level logs to stderr.
func SetDebugLogger() {
	SetLogger(*slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

// getLogger returns the global logger.
func getLogger() *slog.Logger {
	return globalLogger.Load()
}

// Infof logs informational messages about the progress of the link.
func Infof(msg string, args ...any) {
	if getLogger().Enabled(context.Background(), slog.LevelInfo) {
		getLogger().Info(fmt.Sprintf(msg, args...))
	}
}

// Info logs informational messages about the progress of the link.
func Info(msg string) {
	if getLogger().Enabled(context.Background(), slog.LevelInfo) {
		getLogger().Info(msg)
	}
}

// Errorf logs error messages about exceptional states of the link.
func Errorf(msg string, args ...any) {
	if getLogger().Enabled(context.Background(), slog.LevelError) {
		getLogger().Error(fmt.Sprintf(msg, args...))
	}
}

// Error logs error messages about exceptional states of the link.
func Error(msg error) {
	if getLogger().Enabled(context.Background(), slog.LevelError) {
		getLogger().Error(msg.Error())
	}
}

// Debugf logs detailed information about internal linker behavior.
func Debugf(msg string, args ...any) {
	if getLogger().Enabled(context.Background(), slog.LevelDebug) {
		getLogger().Debug(fmt.Sprintf(msg, args...))
	}
}

// Debug logs detailed information about internal linker behavior.
func Debug(msg string) {
	if getLogger().Enabled(context.Background(), slog.LevelDebug) {
		getLogger().Debug(msg)
	}
}

// Warnf logs warnings, more important than informational messages but not
// errors.
func Warnf(msg string, args ...any) {
	if getLogger().Enabled(context.Background(), slog.LevelWarn) {
		getLogger().Warn(fmt.Sprintf(msg, args...))
	}
}

// Warn logs warnings, more important than informational messages but not
// errors.
func Warn(msg string) {
	if getLogger().Enabled(context.Background(), slog.LevelWarn) {
		getLogger().Warn(msg)
	}
}
