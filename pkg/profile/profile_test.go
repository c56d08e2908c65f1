// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"html"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielyue/hubstats/pkg/hub"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

func props(v string) string { return `data-props="` + html.EscapeString(v) + `"` }

var orgPage = `<!doctype html><html><body>
<header class="from-gray-50-to-white bg-linear-to-t">
 <div class="container">
  <div class="overflow-hidden">
   <div class="mb-3 items-center">
    <h1>Acme AI</h1>
    <span class="rounded-sm border px-2">company</span>
    <span class="rounded-sm border px-2">company</span>
    <a href="https://github.com/acme" title="GitHub"></a>
    <a href="https://x.com/acme">@acme</a>
    <a href="https://huggingface.co/acme/settings">settings</a>
    <a href="/enterprise">Enterprise</a>
   </div>
  </div>
 </div>
</header>
<div ` + props(`{"org":{"name":"acme"},"models":[],"followers":0}`) + `></div>
<div ` + props(`{"models":[{"id":"acme/a"},{"id":"acme/b"}],"followers":12,"org":null}`) + `></div>
<div data-props="{not json"></div>
</body></html>`

func TestParseOrg(t *testing.T) {
	p, err := Parse("acme", strings.NewReader(orgPage))
	require.NoError(t, err)

	assert.Equal(t, KindOrg, p.Kind)
	assert.Equal(t, map[string]any{"name": "acme"}, p.Data["org"], "non-null value kept")
	assert.Len(t, p.Data["models"], 2, "larger list wins")
	assert.Equal(t, float64(12), p.Data["followers"], "truthy wins over falsy")

	require.NotNil(t, p.Header)
	assert.Equal(t, "Acme AI", p.Header.DisplayName)
	assert.Equal(t, []string{"company"}, p.Header.Tags)
	require.Len(t, p.Header.Links, 2)
	assert.Equal(t, Link{URL: "https://github.com/acme", Text: "GitHub", Title: "GitHub", Type: "github"}, p.Header.Links[0])
	assert.Equal(t, "twitter", p.Header.Links[1].Type)
}

func TestParseUser(t *testing.T) {
	page := `<html><body><div ` + props(`{"u":{"user":"jdoe"}}`) + `></div></body></html>`
	p, err := Parse("jdoe", strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, KindUser, p.Kind)
	assert.Nil(t, p.Header)

	p, err = Parse("nobody", strings.NewReader(`<html></html>`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, p.Kind)
	assert.Empty(t, p.Data)
}

func TestLinkType(t *testing.T) {
	for url, want := range map[string]string{
		"https://github.com/x":      "github",
		"https://twitter.com/x":     "twitter",
		"https://www.linkedin.com/": "linkedin",
		"https://youtu.be/abc":      "youtube",
		"https://discord.gg/abc":    "discord",
		"https://acme.ai":           "website",
	} {
		assert.Equal(t, want, LinkType(url), url)
	}
}

type pages map[string]string

func (p pages) GetPage(_ context.Context, path string) ([]byte, error) {
	body, ok := p[path]
	if !ok {
		return nil, &hub.APIError{StatusCode: 404, Status: "404 Not Found"}
	}
	return []byte(body), nil
}

func TestHTMLFetcher(t *testing.T) {
	f := &HTMLFetcher{Pages: pages{"/acme": orgPage}}
	p, err := f.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", p.Name)

	_, err = f.Fetch(context.Background(), "ghost")
	assert.ErrorIs(t, err, hub.ErrNotFound)

	_, err = f.Fetch(context.Background(), "a/b")
	assert.Error(t, err)
}

type fakeFetcher map[string]error

func (f fakeFetcher) Fetch(_ context.Context, name string) (*Profile, error) {
	if err := f[name]; err != nil {
		return nil, err
	}
	return &Profile{Name: name, Kind: KindUser, Data: map[string]any{"u": map[string]any{"user": name}}}, nil
}

func TestScrape(t *testing.T) {
	f := fakeFetcher{
		"limited": hub.ErrRateLimited,
		"broken":  errors.New("boom"),
	}
	targets := []Target{{Name: "alice", TotalDownloads: 10}, {Name: "limited"}, {Name: "broken"}, {Name: "bob"}}

	var out, retry bytes.Buffer
	res, err := Scrape(context.Background(), f, targets, &out, &retry, ScrapeOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, res.Succeeded)
	assert.Equal(t, []string{"limited", "broken"}, res.Retry)
	assert.Equal(t, "limited\nbroken\n", retry.String())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var p Profile
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &p))
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, int64(10), p.TotalDownloads)

	names, err := ReadNames(strings.NewReader(retry.String() + "\n  \n"))
	require.NoError(t, err)
	assert.Equal(t, []Target{{Name: "limited"}, {Name: "broken"}}, names)
}

func TestScrapeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out, retry bytes.Buffer
	_, err := Scrape(ctx, fakeFetcher{}, []Target{{Name: "a"}, {Name: "b"}}, &out, &retry,
		ScrapeOptions{Delay: 1}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRankAuthors(t *testing.T) {
	rec := func(id string, d int64, valid bool) snapshot.Record {
		var v snapshot.Values
		v[snapshot.Downloads] = sql.NullInt64{Int64: d, Valid: valid}
		return snapshot.Record{EntityID: id, Counters: v}
	}
	tab := &snapshot.Table{Records: []snapshot.Record{
		rec("acme/a", 100, true),
		rec("acme/b", 50, true),
		rec("beta/x", 150, true),
		rec("gamma/y", 0, false),
		rec("standalone", 1000, true),
		rec("delta/z", 150, true),
	}}

	got := RankAuthors(tab, 2)
	assert.Equal(t, []Target{{Name: "acme", TotalDownloads: 150}, {Name: "beta", TotalDownloads: 150}}, got)
	assert.Len(t, RankAuthors(tab, 0), 4)
}
