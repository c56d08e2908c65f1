// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Commit is one entry of a repository's commit history.
type Commit struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
	Authors []struct {
		User string `json:"user"`
	} `json:"authors,omitempty"`
}

// ListCommits lists the commits of revision, newest first, following the
// API's pagination. If max > 0 at most max commits are returned.
func (c *Client) ListCommits(ctx context.Context, repo Repo, revision string, max int) ([]Commit, error) {
	if !IsValidRepoID(repo.ID) {
		return nil, ErrInvalidRepo
	}
	if revision == "" {
		revision = "main"
	}

	var out []Commit
	next := c.commitsURL(repo, revision)
	for next != "" {
		body, hdr, err := c.getBody(ctx, next, "application/json")
		if err != nil {
			return nil, fmt.Errorf("list commits of %s: %w", repo, err)
		}
		var page []Commit
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("list commits of %s: decode: %w", repo, err)
		}
		out = append(out, page...)
		if max > 0 && len(out) >= max {
			return out[:max], nil
		}
		if len(page) == 0 {
			break
		}
		next = nextLink(hdr)
	}
	return out, nil
}
