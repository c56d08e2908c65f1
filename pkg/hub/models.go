// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// MaxPageSize is the largest page the models API serves.
const MaxPageSize = 1000

// ModelQuery selects models from the models API.
type ModelQuery struct {
	Search      string
	Author      string
	Filter      []string
	PipelineTag string
	Library     string
	Language    string
	Tags        []string

	// Sort is the field to sort by, e.g. "downloads", "likes",
	// "trendingScore", "createdAt". Empty keeps the API default.
	Sort string
	// Ascending reverses the default descending order.
	Ascending bool

	// Full requests the full model card metadata.
	Full bool

	// Limit is the total number of models wanted. 0 means all.
	Limit int
	// PageSize is the number of models per request. If <= 0 or above
	// MaxPageSize, MaxPageSize is used.
	PageSize int
}

func (q ModelQuery) values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("search", q.Search)
	set("author", q.Author)
	set("pipeline_tag", q.PipelineTag)
	set("library", q.Library)
	set("language", q.Language)
	for _, f := range q.Filter {
		v.Add("filter", f)
	}
	for _, t := range q.Tags {
		v.Add("filter", t)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
		if q.Ascending {
			v.Set("direction", "1")
		} else {
			v.Set("direction", "-1")
		}
	}
	if q.Full {
		v.Set("full", "true")
	}

	size := q.PageSize
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}
	if q.Limit > 0 && q.Limit < size {
		size = q.Limit
	}
	v.Set("limit", strconv.Itoa(size))
	return v
}

// Model is the subset of model metadata hubstats interprets. Raw keeps the
// complete JSON object as returned by the API.
type Model struct {
	ID               string   `json:"id"`
	Author           string   `json:"author,omitempty"`
	Downloads        int64    `json:"downloads"`
	DownloadsAllTime int64    `json:"downloadsAllTime,omitempty"`
	Likes            int64    `json:"likes"`
	TrendingScore    float64  `json:"trendingScore,omitempty"`
	PipelineTag      string   `json:"pipeline_tag,omitempty"`
	LibraryName      string   `json:"library_name,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	CreatedAt        string   `json:"createdAt,omitempty"`
	LastModified     string   `json:"lastModified,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ListModels pages through the models API and calls fn for every model,
// in API order. It stops after q.Limit models, when the API has no more
// pages, or when fn returns an error. It returns the number of models
// passed to fn.
func (c *Client) ListModels(ctx context.Context, q ModelQuery, fn func(Model) error) (int, error) {
	next := c.endpoint + "/api/models?" + q.values().Encode()
	n := 0
	for next != "" {
		body, hdr, err := c.getBody(ctx, next, "application/json")
		if err != nil {
			return n, fmt.Errorf("list models: %w", err)
		}
		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			return n, fmt.Errorf("list models: decode: %w", err)
		}
		for _, raw := range page {
			var m Model
			if err := json.Unmarshal(raw, &m); err != nil {
				return n, fmt.Errorf("list models: decode: %w", err)
			}
			m.Raw = raw
			if err := fn(m); err != nil {
				return n, err
			}
			n++
			if q.Limit > 0 && n >= q.Limit {
				return n, nil
			}
		}
		if len(page) == 0 {
			break
		}
		next = nextLink(hdr)
	}
	return n, nil
}
