// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/internal/logging"
	"github.com/danielyue/hubstats/internal/tui"
	"github.com/danielyue/hubstats/pkg/history"
	"github.com/danielyue/hubstats/pkg/hub"
	"github.com/danielyue/hubstats/pkg/hubstats"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token    string
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string
	Endpoint string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := newRootCmd(ctx, ro, version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRootCmd(ctx context.Context, ro *RootOpts, version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "hubstats",
		Short:         "Daily usage statistics of Hugging Face models from versioned metadata snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro)
		},
	}

	// Global flags
	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Hugging Face access token (also reads HF_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events and results")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (warnings and errors only)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Append JSON logs to file (in addition to stderr)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&ro.Endpoint, "endpoint", "", "Hub endpoint URL (also reads HF_ENDPOINT env)")

	root.AddCommand(newIngestCmd(ctx, ro))
	root.AddCommand(newAnalyzeCmd(ctx, ro))
	root.AddCommand(newCleanCmd(ro))
	root.AddCommand(newSnapshotsCmd(ctx, ro))
	root.AddCommand(newModelsCmd(ctx, ro))
	root.AddCommand(newProfilesCmd(ctx, ro))
	root.AddCommand(newServeCmd(ro, version))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd(version))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// token resolves the Hub token from the flag, then HF_TOKEN.
func (ro *RootOpts) token() string {
	if tok := strings.TrimSpace(ro.Token); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv("HF_TOKEN"))
}

// endpoint resolves the Hub endpoint from the flag, then HF_ENDPOINT.
func (ro *RootOpts) endpoint() string {
	if ep := strings.TrimSpace(ro.Endpoint); ep != "" {
		return strings.TrimRight(ep, "/")
	}
	if ep := strings.TrimSpace(os.Getenv("HF_ENDPOINT")); ep != "" {
		return strings.TrimRight(ep, "/")
	}
	return hub.DefaultEndpoint
}

// session is the per-command logging and progress setup.
type session struct {
	ro  *RootOpts
	log *slog.Logger
	// fileLog receives events when --log-file is set and another display
	// handles the terminal. Nil otherwise.
	fileLog *slog.Logger
	closers []func() error
}

func newSession(ro *RootOpts) (*session, error) {
	opts := logging.Options{Level: ro.LogLevel, Verbose: ro.Verbose, Quiet: ro.Quiet, File: ro.LogFile}
	log, closeLog, err := logging.New(opts, os.Stderr)
	if err != nil {
		return nil, err
	}
	s := &session{ro: ro, log: log, closers: []func() error{closeLog}}
	if ro.LogFile != "" {
		fileLog, closeFile, err := logging.New(opts, io.Discard)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.fileLog = fileLog
		s.closers = append(s.closers, closeFile)
	}
	return s, nil
}

// Close releases log files.
func (s *session) Close() {
	for _, c := range s.closers {
		c()
	}
}

// progress selects how events are shown:
//   - --json: JSON lines on stdout
//   - --verbose or --quiet: log records on stderr, filtered by level
//   - interactive terminal: a progress bar
//   - otherwise: plain text lines
//
// The returned function must be called when the operation is done.
func (s *session) progress(title string) (hubstats.EventFunc, func()) {
	var display hubstats.EventFunc
	done := func() {}
	switch {
	case s.ro.JSONOut:
		display = jsonProgress(os.Stdout)
	case s.ro.Verbose || s.ro.Quiet:
		return hubstats.Serialized(logging.Events(s.log)), done
	case tui.IsInteractive(os.Stderr):
		ui := tui.NewLiveRenderer(os.Stderr, title)
		display, done = ui.Handler(), ui.Close
	default:
		display = cliProgress(os.Stdout)
	}
	if s.fileLog != nil {
		display = hubstats.Multi(display, logging.Events(s.fileLog))
	}
	return hubstats.Serialized(display), done
}

// hubClient builds a Hub client reporting retries to progress.
func (s *session) hubClient(progress hubstats.EventFunc) *hub.Client {
	cfg := hub.DefaultSettings()
	cfg.Token = s.ro.token()
	cfg.Endpoint = s.ro.endpoint()
	return hub.New(cfg, progress)
}

// lister builds the version lister named by kind: git, api or auto
// (git, falling back to the API).
func (s *session) lister(kind string, client *hub.Client, maxVersions int) (history.Lister, error) {
	git := &history.GitLister{Endpoint: s.ro.endpoint(), Token: s.ro.token()}
	api := &history.APILister{Source: client, MaxVersions: maxVersions}
	switch strings.ToLower(kind) {
	case "git":
		return git, nil
	case "api":
		return api, nil
	case "", "auto":
		fb := history.NewFallback(git, api)
		fb.OnFallback = func(failed history.Lister, err error) {
			s.log.Warn("version listing failed, trying next strategy", "lister", failed.Name(), "error", err)
		}
		return fb, nil
	}
	return nil, fmt.Errorf("unknown lister %q (expected git, api or auto)", kind)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cliProgress returns a simple text-based progress handler.
func cliProgress(w io.Writer) hubstats.EventFunc {
	return func(ev hubstats.Event) {
		switch ev.Event {
		case "list_start":
			fmt.Fprintf(w, "Listing versions of %s ...\n", ev.Repo)
		case "retry":
			fmt.Fprintf(w, "retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		case "snapshot_saved":
			fmt.Fprintf(w, "saved: %s\n", ev.Path)
		case "profile_saved":
			fmt.Fprintf(w, "[%d/%d] %s\n", ev.Current, ev.Total, ev.Path)
		case "output_written":
			fmt.Fprintf(w, "wrote: %s\n", ev.Path)
		case "stage_done":
			if ev.Level != "debug" {
				fmt.Fprintln(w, ev.Message)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		default:
			if ev.Level == "warn" {
				fmt.Fprintf(os.Stderr, "warn: %s %s\n", ev.Path, ev.Message)
			}
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) hubstats.EventFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev hubstats.Event) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
