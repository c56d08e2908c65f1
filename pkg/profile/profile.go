// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package profile collects public Hub profile pages of users and
// organizations.
//
// A profile page embeds its state as JSON in data-props attributes. The
// fetcher merges every such attribute into one map; organization pages
// additionally yield header metadata (display name, badges, external links).
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind classifies a profile.
type Kind string

const (
	KindUser    Kind = "user"
	KindOrg     Kind = "org"
	KindUnknown Kind = "unknown"
)

// Profile is the scraped state of one profile page.
type Profile struct {
	Name   string         `json:"profile"`
	Kind   Kind           `json:"kind"`
	Data   map[string]any `json:"data"`
	Header *OrgHeader     `json:"header_metadata,omitempty"`

	// TotalDownloads is set by callers that rank profiles by downloads.
	TotalDownloads int64 `json:"total_downloads,omitempty"`
}

// OrgHeader is the metadata shown in an organization page header.
type OrgHeader struct {
	DisplayName string   `json:"org_display_name,omitempty"`
	Tags        []string `json:"tags"`
	Links       []Link   `json:"links"`
}

// Link is an external link of an organization.
type Link struct {
	URL   string `json:"url"`
	Text  string `json:"text,omitempty"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type"`
}

// Fetcher fetches one profile by name.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (*Profile, error)
}

// PageGetter is the part of hub.Client the HTML fetcher needs.
type PageGetter interface {
	GetPage(ctx context.Context, path string) ([]byte, error)
}

// HTMLFetcher fetches profile pages from the Hub web site.
type HTMLFetcher struct {
	Pages PageGetter
}

// Fetch downloads and parses the profile page of name.
func (f *HTMLFetcher) Fetch(ctx context.Context, name string) (*Profile, error) {
	if name == "" || strings.ContainsAny(name, "/?#") {
		return nil, fmt.Errorf("invalid profile name %q", name)
	}
	body, err := f.Pages.GetPage(ctx, "/"+name)
	if err != nil {
		return nil, err
	}
	return Parse(name, bytes.NewReader(body))
}

// Parse extracts a profile from an HTML page. Unparseable data-props
// attributes are skipped.
func Parse(name string, r io.Reader) (*Profile, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", name, err)
	}

	p := &Profile{Name: name, Data: map[string]any{}}
	doc.Find("[data-props]").Each(func(_ int, sel *goquery.Selection) {
		raw, _ := sel.Attr("data-props")
		var props map[string]any
		if json.Unmarshal([]byte(raw), &props) != nil {
			return
		}
		mergeProps(p.Data, props)
	})

	p.Kind = kindOf(p.Data)
	if p.Kind == KindOrg {
		p.Header = orgHeader(doc, name)
	}
	return p, nil
}

func kindOf(data map[string]any) Kind {
	switch {
	case data["org"] != nil:
		return KindOrg
	case data["u"] != nil:
		return KindUser
	default:
		return KindUnknown
	}
}

// mergeProps merges src into dst keeping, per key, the more complete value:
// non-null over null, the larger of two maps or lists, truthy over falsy.
func mergeProps(dst, src map[string]any) {
	for k, v := range src {
		cur, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		switch {
		case cur == nil && v != nil:
			dst[k] = v
		case size(cur) >= 0 && size(v) >= 0:
			if size(v) > size(cur) {
				dst[k] = v
			}
		case truthy(v) && !truthy(cur):
			dst[k] = v
		}
	}
}

// size returns the length of a map or list, or -1.
func size(v any) int {
	switch t := v.(type) {
	case map[string]any:
		return len(t)
	case []any:
		return len(t)
	}
	return -1
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

// orgHeader reads the profile header of an organization page.
func orgHeader(doc *goquery.Document, name string) *OrgHeader {
	h := &OrgHeader{Tags: []string{}, Links: []Link{}}

	header := doc.Find("header").FilterFunction(func(_ int, s *goquery.Selection) bool {
		cls, _ := s.Attr("class")
		return strings.Contains(cls, "bg-linear-to") || strings.Contains(cls, "from-gray")
	}).First()
	if header.Length() == 0 {
		return h
	}

	h.DisplayName = strings.TrimSpace(header.Find("h1").First().Text())

	seen := map[string]bool{}
	header.Find("div, span").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" || len(text) >= 30 || seen[text] || text == h.DisplayName {
			return
		}
		if s.Find("*").Length() > 2 {
			return
		}
		cls, _ := s.Attr("class")
		for _, pat := range []string{"rounded-", "inline-flex", "inline-block", "border", "bg-", "px-", "py-"} {
			if strings.Contains(cls, pat) {
				seen[text] = true
				h.Tags = append(h.Tags, text)
				return
			}
		}
	})

	links := map[string]bool{}
	header.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if strings.Contains(href, "huggingface.co") && strings.Contains(href, name) {
			return
		}
		if links[href] {
			return
		}
		links[href] = true
		title, _ := s.Attr("title")
		text := strings.TrimSpace(s.Text())
		if text == "" {
			text = title
		}
		h.Links = append(h.Links, Link{URL: href, Text: text, Title: title, Type: LinkType(href)})
	})
	return h
}

// LinkType classifies an external link by host.
func LinkType(u string) string {
	u = strings.ToLower(u)
	switch {
	case strings.Contains(u, "github.com"):
		return "github"
	case strings.Contains(u, "twitter.com"), strings.Contains(u, "x.com"):
		return "twitter"
	case strings.Contains(u, "linkedin.com"):
		return "linkedin"
	case strings.Contains(u, "facebook.com"):
		return "facebook"
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return "youtube"
	case strings.Contains(u, "discord"):
		return "discord"
	default:
		return "website"
	}
}
