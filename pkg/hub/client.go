// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielyue/hubstats/pkg/hubstats"
)

// DefaultEndpoint is the default Hugging Face Hub URL.
// Can be overridden via Settings.Endpoint for mirrors.
const DefaultEndpoint = "https://huggingface.co"

// Settings configures the Hub client.
type Settings struct {
	// Endpoint is the Hub base URL. If empty, defaults to DefaultEndpoint.
	Endpoint string

	// Token is the Hugging Face access token for private or gated repos.
	Token string

	// Retries is the maximum number of retry attempts per request.
	// Negative disables retries.
	Retries int

	// BackoffInitial and BackoffMax bound the delay between retries.
	// Duration strings such as "400ms" or "10s".
	BackoffInitial string
	BackoffMax     string

	// RequestsPerSecond limits the request rate. 0 means unlimited.
	RequestsPerSecond float64

	// Timeout bounds each API request (not file downloads). If empty,
	// defaults to "60s".
	Timeout string
}

// DefaultSettings returns Settings with sensible defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:          DefaultEndpoint,
		Retries:           4,
		BackoffInitial:    "400ms",
		BackoffMax:        "10s",
		RequestsPerSecond: 5,
		Timeout:           "60s",
	}
}

// Client talks to the Hub HTTP API.
type Client struct {
	cfg      Settings
	endpoint string
	timeout  time.Duration
	httpc    *http.Client
	limiter  *rate.Limiter
	emit     hubstats.EventFunc
}

// New creates a client. progress receives "retry" events and may be nil.
func New(cfg Settings, progress hubstats.EventFunc) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	timeout := 60 * time.Second
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	return &Client{
		cfg:      cfg,
		endpoint: getEndpoint(cfg.Endpoint),
		timeout:  timeout,
		httpc:    buildHTTPClient(),
		limiter:  lim,
		emit:     hubstats.Emitter(progress, ""),
	}
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

// getEndpoint returns the endpoint to use, falling back to default if empty.
func getEndpoint(endpoint string) string {
	if endpoint == "" {
		return DefaultEndpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

// buildHTTPClient creates an HTTP client with sensible defaults.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// addAuth adds authentication and user-agent headers to a request.
func addAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "hubstats/1")
}

// IsValidRepoID checks if the repository id is in "owner/name" format.
func IsValidRepoID(id string) bool {
	parts := strings.Split(id, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// Repo identifies a model or dataset repository.
type Repo struct {
	ID        string
	IsDataset bool
}

func (r Repo) String() string {
	if r.IsDataset {
		return "datasets/" + r.ID
	}
	return r.ID
}

func (r Repo) kind() string {
	if r.IsDataset {
		return "datasets"
	}
	return "models"
}

// URL builders. The repo id contains a "/" which must not be escaped.

func (c *Client) resolveURL(repo Repo, revision, path string) string {
	if repo.IsDataset {
		return fmt.Sprintf("%s/datasets/%s/resolve/%s/%s", c.endpoint, repo.ID, url.PathEscape(revision), pathEscapeAll(path))
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo.ID, url.PathEscape(revision), pathEscapeAll(path))
}

func (c *Client) commitsURL(repo Repo, revision string) string {
	return fmt.Sprintf("%s/api/%s/%s/commits/%s", c.endpoint, repo.kind(), repo.ID, url.PathEscape(revision))
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

// do sends a GET request with retries and returns the successful response.
// The caller closes the body. Non-2xx responses become *APIError; 404 is
// never retried.
func (c *Client) do(ctx context.Context, rawURL string, accept string) (*http.Response, error) {
	retry := newRetry(c.cfg)
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		addAuth(req, c.cfg.Token)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}

		var wait time.Duration
		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		} else {
			lastErr = statusError(resp, rawURL)
			wait = retryAfter(resp)
			resp.Body.Close()
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= c.cfg.Retries || !retryable(lastErr) {
			return nil, lastErr
		}
		c.emit(hubstats.Event{Level: "warn", Event: "retry", Path: rawURL, Attempt: attempt + 1, Message: lastErr.Error()})
		if d := retry.Next(); d > wait {
			wait = d
		}
		if !sleepCtx(ctx, wait) {
			return nil, ctx.Err()
		}
	}
}

// getBody performs a bounded API request and returns the full body.
func (c *Client) getBody(ctx context.Context, rawURL, accept string) ([]byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.do(ctx, rawURL, accept)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return b, resp.Header, nil
}

func statusError(resp *http.Response, rawURL string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    strings.TrimSpace(string(msg)),
		URL:        rawURL,
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

// GetPage fetches an HTML page (or any other resource) relative to the
// endpoint, e.g. "/openai".
func (c *Client) GetPage(ctx context.Context, path string) ([]byte, error) {
	b, _, err := c.getBody(ctx, c.endpoint+"/"+strings.TrimPrefix(path, "/"), "text/html")
	return b, err
}

// FetchFile streams path at revision of repo into w and returns the number
// of bytes written. A missing file yields an error matching ErrNotFound.
func (c *Client) FetchFile(ctx context.Context, repo Repo, revision, path string, w io.Writer) (int64, error) {
	if !IsValidRepoID(repo.ID) {
		return 0, ErrInvalidRepo
	}
	resp, err := c.do(ctx, c.resolveURL(repo, revision, path), "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s@%s: %w", path, revision, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("download %s@%s: short body (%d of %d bytes)", path, revision, n, resp.ContentLength)
	}
	return n, nil
}

// nextLink extracts the rel="next" target of a Link header.
func nextLink(h http.Header) string {
	for _, v := range h.Values("Link") {
		for _, part := range strings.Split(v, ",") {
			segs := strings.Split(part, ";")
			if len(segs) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segs[0]), "<>")
			for _, p := range segs[1:] {
				p = strings.ReplaceAll(strings.TrimSpace(p), " ", "")
				if p == `rel="next"` || p == "rel=next" {
					return target
				}
			}
		}
	}
	return ""
}
