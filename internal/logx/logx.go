// Package logx provides logger field helpers shared across packages.
package logx

import (
	"context"

	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTab annotates the logger with a tab id when available.
func WithTab(log pslog.Logger, tabID schema.TabID) pslog.Logger {
	if tabID == 0 {
		return log
	}
	return log.With("tab", tabID)
}

// WithRequest annotates the logger with a correlation id when available.
func WithRequest(log pslog.Logger, requestID schema.RequestID) pslog.Logger {
	if requestID == "" {
		return log
	}
	return log.With("request_id", requestID)
}

// WithCommand annotates the logger with a command name when available.
func WithCommand(log pslog.Logger, command string) pslog.Logger {
	if command == "" {
		return log
	}
	return log.With("command", command)
}
