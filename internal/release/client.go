// SPDX-License-Identifier: MPL-2.0

package release

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voxstrap/voxstrap/internal/issue"
)

const (
	// maxJSONResponseBytes is the upper bound on a feed document (10 MB).
	maxJSONResponseBytes = 10 << 20

	// defaultProbeTimeout bounds Probe when the caller passes no timeout.
	defaultProbeTimeout = 10 * time.Second
)

// ErrNoRelease is returned when the feed contains no release.
var ErrNoRelease = errors.New("feed contains no release")

type (
	// RateLimitError is returned when a GitHub-compatible feed reports an
	// exhausted request quota.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// Release is one published build: a version tag, release notes and the
	// downloadable assets.
	Release struct {
		TagName string
		Name    string
		Body    string
		Assets  []Asset
	}

	// Asset is a single downloadable file of a release.
	Asset struct {
		Name               string
		BrowserDownloadURL string
		Size               int64
	}

	// wireRelease is the JSON shape of a release in the feed.
	wireRelease struct {
		TagName string      `json:"tag_name"`
		Name    string      `json:"name"`
		Body    string      `json:"body"`
		Assets  []wireAsset `json:"assets"`
	}

	wireAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	}

	// Client reads a release feed: a URL answering GET with either one
	// release object or an array of them, newest first.
	Client struct {
		httpClient *http.Client
		feedURL    string
		token      string
		userAgent  string
	}

	// ClientOption configures a Client during construction.
	ClientOption func(*Client)
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("release feed rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

// Unwrap classifies rate limiting as a network failure.
func (e *RateLimitError) Unwrap() error { return issue.ErrNetwork }

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithToken sets a bearer token sent to the feed host only.
func WithToken(token string) ClientOption {
	return func(cl *Client) {
		cl.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// NewClient creates a Client for feedURL.
func NewClient(feedURL string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		feedURL:    feedURL,
		userAgent:  "voxstrap/dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FeedURL returns the feed this client reads.
func (c *Client) FeedURL() string {
	return c.feedURL
}

// Probe performs a lightweight reachability check against the feed. Any
// HTTP answer below 500 counts as reachable. Failures wrap
// issue.ErrConnectivity.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.doRequest(ctx, http.MethodHead, c.feedURL)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("probing %s: %w: %w", redactURL(c.feedURL), issue.ErrConnectivity, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probing %s: %w: status %d", redactURL(c.feedURL), issue.ErrConnectivity, resp.StatusCode)
	}
	return nil
}

// Latest fetches the feed and returns its newest release.
func (c *Client) Latest(ctx context.Context) (*Release, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetching release feed: %w: %w", issue.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if err := checkRateLimit(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching release feed: %w: unexpected status %d", issue.ErrNetwork, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading release feed: %w: %w", issue.ErrNetwork, err)
	}

	r, err := parseFeed(data)
	if err != nil {
		return nil, fmt.Errorf("release feed: %w", err)
	}
	return r, nil
}

// DownloadAsset opens the asset at assetURL as a stream. The size is the
// announced Content-Length, or -1 when unknown. The caller closes the body.
func (c *Client) DownloadAsset(ctx context.Context, assetURL string) (io.ReadCloser, int64, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, assetURL)
	if err != nil {
		return nil, 0, fmt.Errorf("downloading asset %s: %w: %w", redactURL(assetURL), issue.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("downloading asset %s: %w: unexpected status %d",
			redactURL(assetURL), issue.ErrNetwork, resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, nil
}

// FirstAsset returns the release's first asset.
func (r *Release) FirstAsset() (Asset, bool) {
	if r == nil || len(r.Assets) == 0 {
		return Asset{}, false
	}
	return r.Assets[0], true
}

// Asset looks up an asset by exact name.
func (r *Release) Asset(name string) (Asset, bool) {
	if r == nil {
		return Asset{}, false
	}
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// PayloadAsset returns the first asset that is not the checksums file.
func (r *Release) PayloadAsset() (Asset, bool) {
	if r == nil {
		return Asset{}, false
	}
	for _, a := range r.Assets {
		if a.Name != ChecksumsAssetName {
			return a, true
		}
	}
	return Asset{}, false
}

func (c *Client) doRequest(ctx context.Context, method, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	// Only attach the token when the request targets the feed host, so a
	// redirect to a third-party CDN never sees it.
	if c.token != "" && sameHost(req.URL, c.feedURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// parseFeed accepts a single release object or an array, using the first
// element of an array.
func parseFeed(data []byte) (*Release, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNoRelease
	}

	var wr wireRelease
	if trimmed[0] == '[' {
		var all []wireRelease
		if err := json.Unmarshal(trimmed, &all); err != nil {
			return nil, fmt.Errorf("decoding releases: %w", err)
		}
		if len(all) == 0 {
			return nil, ErrNoRelease
		}
		wr = all[0]
	} else if err := json.Unmarshal(trimmed, &wr); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}

	if strings.TrimSpace(wr.TagName) == "" {
		return nil, fmt.Errorf("release has no tag: %w", issue.ErrVersionParse)
	}

	r := toRelease(wr)
	return &r, nil
}

func toRelease(wr wireRelease) Release {
	assets := make([]Asset, 0, len(wr.Assets))
	for _, wa := range wr.Assets {
		assets = append(assets, Asset(wa))
	}
	return Release{
		TagName: strings.TrimSpace(wr.TagName),
		Name:    wr.Name,
		Body:    wr.Body,
		Assets:  assets,
	}
}

// checkRateLimit inspects X-RateLimit-* headers and returns a
// RateLimitError when the remaining quota is zero.
func checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // Non-numeric header is non-fatal.
	}

	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.

	return &RateLimitError{Limit: limit, ResetAt: time.Unix(resetUnix, 0)}
}

func sameHost(reqURL *url.URL, feedURL string) bool {
	base, err := url.Parse(feedURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(reqURL.Host, base.Host)
}

// redactURL strips query parameters and fragments for safe inclusion in
// error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
