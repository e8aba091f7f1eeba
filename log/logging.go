// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

// Package log provides a public logging interface for github.com/glink-ld/glink.
package log // import "github.com/glink-ld/glink/log"

import (
	"log/slog"

	"github.com/glink-ld/glink/internal/log"
)

// SetDebug configures the linker's internal logger to emit debug-level logs.
func SetDebug() {
	log.SetDebugLogger()
}

// SetLogger configures the linker's internal logger.
func SetLogger(l slog.Logger) {
	log.SetLogger(l)
}
