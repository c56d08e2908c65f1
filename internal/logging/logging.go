// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package logging configures the process logger and adapts pipeline events
// to log records.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielyue/hubstats/pkg/hubstats"
)

// Options selects the log level and destinations.
type Options struct {
	// Level is one of debug, info, warn, error. Verbose and Quiet override it.
	Level   string
	Verbose bool
	Quiet   bool
	// File, when set, receives JSON records in addition to the text output.
	File string
}

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (use debug, info, warn or error)", s)
	}
}

func (o Options) level() (slog.Level, error) {
	switch {
	case o.Verbose:
		return slog.LevelDebug, nil
	case o.Quiet:
		return slog.LevelWarn, nil
	default:
		return ParseLevel(o.Level)
	}
}

// New builds a logger writing text to w and, if opts.File is set, JSON
// lines appended to that file. The returned close function closes the file.
func New(opts Options, w io.Writer) (*slog.Logger, func() error, error) {
	lvl, err := opts.level()
	if err != nil {
		return nil, nil, err
	}
	handlers := []slog.Handler{slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})}
	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl}))
		closeFn = f.Close
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(fanout(handlers)), closeFn, nil
}

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// EventLevel maps an event level name to a slog level.
func EventLevel(s string) slog.Level {
	l, err := ParseLevel(s)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// Events returns an EventFunc that logs each event. Zero-valued fields are
// omitted.
func Events(logger *slog.Logger) hubstats.EventFunc {
	return func(ev hubstats.Event) {
		lvl := EventLevel(ev.Level)
		ctx := context.Background()
		if !logger.Enabled(ctx, lvl) {
			return
		}
		attrs := make([]slog.Attr, 0, 8)
		add := func(k, v string) {
			if v != "" {
				attrs = append(attrs, slog.String(k, v))
			}
		}
		add("event", ev.Event)
		add("repo", ev.Repo)
		add("version", ev.Version)
		add("path", ev.Path)
		if ev.Total > 0 {
			attrs = append(attrs, slog.Int("current", ev.Current), slog.Int("total", ev.Total))
		}
		if ev.Count != 0 {
			attrs = append(attrs, slog.Int64("count", ev.Count))
		}
		if ev.Bytes != 0 {
			attrs = append(attrs, slog.Int64("bytes", ev.Bytes))
		}
		if ev.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", ev.Attempt))
		}
		msg := ev.Message
		if msg == "" {
			msg = ev.Event
		}
		logger.LogAttrs(ctx, lvl, msg, attrs...)
	}
}
