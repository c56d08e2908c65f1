// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders progress and run summaries on a terminal.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/danielyue/hubstats/pkg/hubstats"
)

const barTemplate = `{{string . "prefix"}}{{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{etime . }} {{string . "item"}}`

// LiveRenderer drives a progress bar from events. The bar follows the
// events that carry a Total (versions being ingested, snapshot files
// being loaded, profiles being scraped); warnings and errors are printed
// above it.
type LiveRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	title   string
	bar     *pb.ProgressBar
	stage   string
	noColor bool
	stopped bool

	warnings int
	errors   int
}

// NewLiveRenderer returns a renderer writing to out. title prefixes the bar.
func NewLiveRenderer(out io.Writer, title string) *LiveRenderer {
	return &LiveRenderer{
		out:     &syncWriter{w: out},
		title:   title,
		noColor: os.Getenv("NO_COLOR") != "" || color.NoColor,
	}
}

// syncWriter serializes the bar's refresh goroutine with event output.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Handler returns an EventFunc feeding the renderer.
func (lr *LiveRenderer) Handler() hubstats.EventFunc {
	return lr.apply
}

func (lr *LiveRenderer) apply(ev hubstats.Event) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.stopped {
		return
	}

	switch ev.Level {
	case "warn":
		lr.warnings++
		lr.println(color.New(color.FgYellow), "warn", ev)
	case "error":
		lr.errors++
		lr.println(color.New(color.FgRed), "error", ev)
	}

	if ev.Total <= 0 {
		return
	}
	stage := stageOf(ev.Event)
	if lr.bar == nil || stage != lr.stage {
		lr.finishBar()
		lr.stage = stage
		lr.bar = pb.ProgressBarTemplate(barTemplate).New(ev.Total)
		lr.bar.SetWriter(lr.out)
		lr.bar.Set("prefix", lr.title+" "+stage+" ")
		lr.bar.SetMaxWidth(110)
		lr.bar.Start()
	}
	lr.bar.SetTotal(int64(ev.Total))
	if ev.Current > 0 {
		lr.bar.SetCurrent(int64(ev.Current))
	}
	item := ev.Path
	if item == "" {
		item = shortID(ev.Version)
	}
	lr.bar.Set("item", ellipsizeMiddle(item, 40))
}

// stageOf groups event types sharing one bar.
func stageOf(event string) string {
	switch {
	case strings.HasPrefix(event, "version"), strings.HasPrefix(event, "snapshot"), strings.HasPrefix(event, "list"):
		return "versions"
	case strings.HasPrefix(event, "profile"):
		return "profiles"
	case strings.HasPrefix(event, "file"), strings.HasPrefix(event, "load"):
		return "snapshots"
	default:
		return event
	}
}

func (lr *LiveRenderer) println(c *color.Color, tag string, ev hubstats.Event) {
	msg := ev.Message
	if ev.Path != "" {
		msg = ev.Path + ": " + msg
	}
	if lr.bar != nil {
		// clear the bar line so the message is not interleaved with it
		fmt.Fprint(lr.out, "\r\x1b[2K")
	}
	if lr.noColor {
		fmt.Fprintf(lr.out, "%s: %s\n", tag, msg)
		return
	}
	fmt.Fprintf(lr.out, "%s %s\n", c.Sprint(tag+":"), msg)
}

func (lr *LiveRenderer) finishBar() {
	if lr.bar != nil {
		lr.bar.SetCurrent(lr.bar.Total())
		lr.bar.Finish()
		lr.bar = nil
	}
}

// Close finishes the bar. Events received afterwards are ignored.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.stopped {
		return
	}
	lr.stopped = true
	lr.finishBar()
}

// Counts returns how many warnings and errors were seen.
func (lr *LiveRenderer) Counts() (warnings, errors int) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.warnings, lr.errors
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return s
	}
	runes := []rune(s)
	half := (w - 3) / 2
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// IsInteractive reports whether f is a terminal that understands ANSI
// sequences.
func IsInteractive(f *os.File) bool {
	if !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
