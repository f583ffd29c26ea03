// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Log keys carrying the active span of a record.
const (
	LogKeyTraceID = "trace_id"
	LogKeySpanID  = "span_id"
)

// logLevels holds the names accepted by log.level.
var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a log.level name to a slog level, case-insensitively.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	if lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// NewLogger returns a logger writing text, or JSON when format is "json", to
// output. Records logged with a span in their context carry its IDs.
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler = slog.NewTextHandler(output, opts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(output, opts)
	}
	return slog.New(spanHandler{Handler: h})
}

// ConfigureSlog installs NewLogger(output, level, format) as the slog default
// and returns it.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := NewLogger(output, level, format)
	slog.SetDefault(logger)
	return logger
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// spanHandler joins tick logs to the replay trace. IDs already present on a
// record are left alone.
type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.Handler.Handle(ctx, r)
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return h.Handler.Handle(ctx, r)
	}

	var haveTrace, haveSpan bool
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case LogKeyTraceID:
			haveTrace = true
		case LogKeySpanID:
			haveSpan = true
		}
		return !haveTrace || !haveSpan
	})
	if !haveTrace {
		r.AddAttrs(slog.String(LogKeyTraceID, sc.TraceID().String()))
	}
	if !haveSpan {
		r.AddAttrs(slog.String(LogKeySpanID, sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{Handler: h.Handler.WithGroup(name)}
}
