// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// BuildInfo holds version and build information.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Commit    string `json:"commit"`
	BuildTime string `json:"built"`
	// Deps maps the main third-party modules to their versions.
	Deps map[string]string `json:"deps,omitempty"`
}

// reportedDeps are the modules listed by `hubstats version`.
var reportedDeps = []string{
	"github.com/parquet-go/parquet-go",
	"modernc.org/sqlite",
}

// GetBuildInfo returns the current build information.
func GetBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, kv := range bi.Settings {
		if kv.Key == "vcs.revision" {
			info.Commit = kv.Value[:min(len(kv.Value), 7)]
		} else if kv.Key == "vcs.time" {
			info.BuildTime = kv.Value
		}
	}
	want := make(map[string]bool, len(reportedDeps))
	for _, name := range reportedDeps {
		want[name] = true
	}
	for _, m := range bi.Deps {
		if !want[m.Path] {
			continue
		}
		if info.Deps == nil {
			info.Deps = map[string]string{}
		}
		info.Deps[m.Path] = m.Version
	}
	return info
}

func newVersionCmd(version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := GetBuildInfo(version)

			if short {
				fmt.Fprintln(cmd.OutOrStdout(), info.Version)
				return nil
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hubstats %s\n", info.Version)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "  go\t%s\n", info.GoVersion)
			fmt.Fprintf(tw, "  platform\t%s/%s\n", info.OS, info.Arch)
			fmt.Fprintf(tw, "  commit\t%s\n", info.Commit)
			fmt.Fprintf(tw, "  built\t%s\n", info.BuildTime)
			for _, name := range reportedDeps {
				if v, ok := info.Deps[name]; ok {
					fmt.Fprintf(tw, "  %s\t%s\n", name, v)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}
