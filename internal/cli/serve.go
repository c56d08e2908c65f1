// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/internal/metrics"
	"github.com/danielyue/hubstats/internal/server"
	"github.com/danielyue/hubstats/pkg/hubstats"
	"github.com/danielyue/hubstats/pkg/ingest"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

func newServeCmd(ro *RootOpts, version string) *cobra.Command {
	cfg := server.DefaultConfig()
	var (
		listerKind  string
		maxVersions int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for ingest and analysis jobs",
		Long: `Start an HTTP server that provides:
  - REST API to start ingest and analyze jobs and list snapshots
  - WebSocket for live job events
  - Prometheus metrics at /metrics

Directories are configured server-side only (not via API).

Example:
  hubstats serve
  hubstats serve --port 3000
  hubstats serve --snapshot-dir ./data/snapshots --output-dir ./data/clean`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(ro)
			if err != nil {
				return err
			}
			defer s.Close()

			cfg.Token = ro.token()
			cfg.Endpoint = ro.endpoint()
			cfg.Version = version

			store, err := snapshot.Open(cfg.SnapshotDir)
			if err != nil {
				return err
			}
			defer store.Close()

			// validate the lister before accepting jobs
			if _, err := s.lister(listerKind, nil, maxVersions); err != nil {
				return err
			}
			ingestFn := func(ctx context.Context, job ingest.Job, progress hubstats.EventFunc) (*ingest.Result, error) {
				client := s.hubClient(progress)
				lister, err := s.lister(listerKind, client, maxVersions)
				if err != nil {
					return nil, err
				}
				in := &ingest.Ingestor{Lister: lister, Fetcher: client, Store: store}
				return in.Run(ctx, job, progress)
			}

			srv := server.New(cfg, server.Deps{
				Ingest:  ingestFn,
				Store:   store,
				Metrics: metrics.New(),
				Logger:  s.log,
			})

			// Handle shutdown signals
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Printf("hubstats %s serving on http://%s:%d (snapshots: %s, outputs: %s)\n",
				version, cfg.Addr, cfg.Port, cfg.SnapshotDir, cfg.OutputDir)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to bind to")
	cmd.Flags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "Port to listen on")
	cmd.Flags().StringVarP(&cfg.SnapshotDir, "snapshot-dir", "d", cfg.SnapshotDir, "Snapshot store directory")
	cmd.Flags().StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Base directory of analysis outputs")
	cmd.Flags().StringVar(&cfg.TableName, "table", cfg.TableName, "Snapshot table name")
	cmd.Flags().StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "CORS origins allowed to call the API (default: any)")
	cmd.Flags().StringVar(&listerKind, "lister", "auto", "Version history source: git, api or auto")
	cmd.Flags().IntVar(&maxVersions, "max-versions", 0, "Cap on versions listed through the API (0 = all)")

	return cmd
}
