// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"

	"github.com/danielyue/hubstats/pkg/hub"
)

// CommitSource is the part of hub.Client the API lister needs.
type CommitSource interface {
	ListCommits(ctx context.Context, repo hub.Repo, revision string, max int) ([]hub.Commit, error)
}

// APILister lists versions through the Hub commits API.
//
// The API pages newest first. MaxVersions caps how many commits are
// requested, so a capped listing only covers the most recent history.
type APILister struct {
	Source      CommitSource
	MaxVersions int
}

func (a *APILister) Name() string { return "api" }

// List returns the versions in chronological order.
func (a *APILister) List(ctx context.Context, q Query) ([]Version, error) {
	commits, err := a.Source.ListCommits(ctx, q.Repo, q.Revision, a.MaxVersions)
	if err != nil {
		return nil, err
	}
	out := make([]Version, 0, len(commits))
	for _, c := range commits {
		if !q.Since.IsZero() && c.Date.Before(q.Since) {
			continue
		}
		out = append(out, Version{ID: c.ID, Time: c.Date.UTC(), Title: c.Title, Message: c.Message})
	}
	Chronological(out)
	return out, nil
}
