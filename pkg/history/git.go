// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// GitLister lists versions with a blob-less clone of the repository and
// git log. It covers the full history.
type GitLister struct {
	// Endpoint is the Hub base URL, e.g. https://huggingface.co.
	Endpoint string
	// Token is embedded in the clone URL when set.
	Token string
	// WorkDir holds temporary clones. If empty, os.TempDir is used.
	WorkDir string
	// Git is the git executable. If empty, "git" is looked up in PATH.
	Git string
}

func (g *GitLister) Name() string { return "git" }

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "%H%x1f%ct%x1f%s%x1f%B%x1e"
)

// List clones q.Repo without blobs or checkout and parses its log.
func (g *GitLister) List(ctx context.Context, q Query) ([]Version, error) {
	bin := g.Git
	if bin == "" {
		bin = "git"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("git not available: %w", err)
	}

	tmp, err := os.MkdirTemp(g.WorkDir, "hubstats-clone-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	rev := q.Revision
	if rev == "" {
		rev = "main"
	}
	clone := exec.CommandContext(ctx, bin, "clone", "--filter=blob:none", "--no-checkout", "--quiet",
		"--branch", rev, g.cloneURL(q), tmp)
	clone.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_LFS_SKIP_SMUDGE=1")
	if out, err := clone.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git clone: %w: %s", err, redact(strings.TrimSpace(string(out)), g.Token))
	}

	args := []string{"-C", tmp, "log", "--format=" + logFormat}
	if !q.Since.IsZero() {
		args = append(args, "--since="+q.Since.UTC().Format(time.RFC3339))
	}
	var stdout, stderr bytes.Buffer
	logCmd := exec.CommandContext(ctx, bin, args...)
	logCmd.Stdout, logCmd.Stderr = &stdout, &stderr
	if err := logCmd.Run(); err != nil {
		return nil, fmt.Errorf("git log: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	vs, err := parseLog(stdout.String())
	if err != nil {
		return nil, err
	}
	Chronological(vs)
	return vs, nil
}

func (g *GitLister) cloneURL(q Query) string {
	ep := strings.TrimSuffix(g.Endpoint, "/")
	if ep == "" {
		ep = "https://huggingface.co"
	}
	if g.Token != "" {
		if i := strings.Index(ep, "://"); i >= 0 {
			ep = ep[:i+3] + "user:" + g.Token + "@" + ep[i+3:]
		}
	}
	if q.Repo.IsDataset {
		return ep + "/datasets/" + q.Repo.ID
	}
	return ep + "/" + q.Repo.ID
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

// parseLog parses output produced with logFormat.
func parseLog(out string) ([]Version, error) {
	var vs []Version
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimLeft(rec, "\r\n")
		if strings.TrimSpace(rec) == "" {
			continue
		}
		f := strings.SplitN(rec, fieldSep, 4)
		if len(f) != 4 {
			return nil, fmt.Errorf("git log: malformed record %q", rec)
		}
		secs, err := strconv.ParseInt(f[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("git log: bad commit time %q", f[1])
		}
		// %B repeats the subject as its first line.
		msg := strings.TrimSpace(f[3])
		if rest, ok := strings.CutPrefix(msg, f[2]); ok {
			msg = strings.TrimSpace(rest)
		}
		vs = append(vs, Version{
			ID:      f[0],
			Time:    time.Unix(secs, 0).UTC(),
			Title:   f[2],
			Message: msg,
		})
	}
	return vs, nil
}
