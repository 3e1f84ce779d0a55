// Package funnelcake provides the client for the Funnelcake REST accelerator,
// a centralized service offering faster trending/search/stats queries over
// the same video corpus the relays serve. It is always optional: callers
// check IsAvailable before use and treat failures as "no result".
package funnelcake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"vinefeed-server/internal/types"
)

const defaultTimeout = 10 * time.Second

// HTTPClient interface for making HTTP requests (allows injection for testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServiceError is the distinguished failure type for all Funnelcake calls.
// Transport errors carry StatusCode 0.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("funnelcake: %s", e.Message)
	}
	return fmt.Sprintf("funnelcake: %s (status %d)", e.Message, e.StatusCode)
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimestamps sets a custom clock, used by availability tests.
func WithTimestamps(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// Client is a Funnelcake API client with failure-backoff availability
// tracking: repeated failures open a widening backoff window during which
// IsAvailable reports false and callers skip straight to the relays.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	now        func() time.Time

	mu           sync.Mutex
	failureCount int
	backoffUntil time.Time
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAvailable reports whether the service is configured and not backing off.
func (c *Client) IsAvailable() bool {
	if c == nil || c.baseURL == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.backoffUntil) || c.backoffUntil.IsZero()
}

// recordFailure widens the backoff window. Ladder mirrors relay health
// tracking: 30s, 60s, 2m, then 5m.
func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	var backoff time.Duration
	switch {
	case c.failureCount <= 1:
		backoff = 30 * time.Second
	case c.failureCount == 2:
		backoff = 60 * time.Second
	case c.failureCount == 3:
		backoff = 2 * time.Minute
	default:
		backoff = 5 * time.Minute
	}
	c.backoffUntil = c.now().Add(backoff)

	slog.Warn("funnelcake request failed",
		"failure_count", c.failureCount,
		"backoff_until", c.backoffUntil.Format("15:04:05"))
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.backoffUntil = time.Time{}
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &ServiceError{Message: fmt.Sprintf("encoding request: %v", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, &ServiceError{Message: fmt.Sprintf("creating request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, &ServiceError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, &ServiceError{Message: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			c.recordFailure()
		}
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: "request failed"}
	}

	c.recordSuccess()
	return data, nil
}

func (c *Client) getVideos(ctx context.Context, path string, query url.Values) ([]*types.VideoStats, error) {
	data, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}

	var resp videosResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ServiceError{Message: fmt.Sprintf("parsing response: %v", err)}
	}
	return resp.Videos, nil
}

func pageQuery(limit int, before int64) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	return q
}

// GetRecentVideos returns the newest videos across the whole corpus.
func (c *Client) GetRecentVideos(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	return c.getVideos(ctx, "/api/videos/recent", pageQuery(limit, before))
}

// GetHomeFeed returns the newest videos by the given authors.
func (c *Client) GetHomeFeed(ctx context.Context, authors []string, limit int, before int64) ([]*types.VideoStats, error) {
	q := pageQuery(limit, before)
	for _, a := range authors {
		q.Add("authors", a)
	}
	return c.getVideos(ctx, "/api/videos/home", q)
}

// GetTrendingVideos returns videos in server-side engagement ranking order.
func (c *Client) GetTrendingVideos(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	return c.getVideos(ctx, "/api/videos/trending", pageQuery(limit, before))
}

// GetCollabVideos returns videos tagging the given pubkey as a collaborator.
func (c *Client) GetCollabVideos(ctx context.Context, pubkey string, limit int, before int64) ([]*types.VideoStats, error) {
	q := pageQuery(limit, before)
	q.Set("pubkey", pubkey)
	return c.getVideos(ctx, "/api/videos/collab", q)
}

// GetVideosByAuthor returns videos published by one author.
func (c *Client) GetVideosByAuthor(ctx context.Context, pubkey string, limit int, before int64) ([]*types.VideoStats, error) {
	return c.getVideos(ctx, "/api/videos/by-author/"+url.PathEscape(pubkey), pageQuery(limit, before))
}

// GetVideosByLoops returns videos ranked by loop count.
func (c *Client) GetVideosByLoops(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	return c.getVideos(ctx, "/api/videos/by-loops", pageQuery(limit, before))
}

// GetVideosByHashtag returns videos carrying the given hashtag.
func (c *Client) GetVideosByHashtag(ctx context.Context, hashtag string, limit int, before int64) ([]*types.VideoStats, error) {
	return c.getVideos(ctx, "/api/videos/by-hashtag/"+url.PathEscape(hashtag), pageQuery(limit, before))
}

// GetClassicVideosByHashtag returns archived classic vines for a hashtag.
func (c *Client) GetClassicVideosByHashtag(ctx context.Context, hashtag string, limit int, before int64) ([]*types.VideoStats, error) {
	return c.getVideos(ctx, "/api/classics/by-hashtag/"+url.PathEscape(hashtag), pageQuery(limit, before))
}

// SearchVideos performs a full-text search over titles and captions.
func (c *Client) SearchVideos(ctx context.Context, query string, limit int, before int64) ([]*types.VideoStats, error) {
	q := pageQuery(limit, before)
	q.Set("q", query)
	return c.getVideos(ctx, "/api/videos/search", q)
}

// GetClassicVines returns the archived classic vine corpus, newest first.
func (c *Client) GetClassicVines(ctx context.Context, limit int, before int64) ([]*types.VideoStats, error) {
	return c.getVideos(ctx, "/api/classics", pageQuery(limit, before))
}

// GetRecommendations returns personalized recommendations for a pubkey.
func (c *Client) GetRecommendations(ctx context.Context, pubkey string, limit int) ([]*types.VideoStats, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.getVideos(ctx, "/api/recommendations/"+url.PathEscape(pubkey), q)
}

// GetVideoStats returns the stats record for one video.
func (c *Client) GetVideoStats(ctx context.Context, eventID string) (*types.VideoStats, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/videos/"+url.PathEscape(eventID)+"/stats", nil, nil)
	if err != nil {
		return nil, err
	}
	var stats types.VideoStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, &ServiceError{Message: fmt.Sprintf("parsing response: %v", err)}
	}
	return &stats, nil
}

// GetVideoViews returns the view count for one video.
func (c *Client) GetVideoViews(ctx context.Context, eventID string) (int64, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/videos/"+url.PathEscape(eventID)+"/views", nil, nil)
	if err != nil {
		return 0, err
	}
	var resp viewsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, &ServiceError{Message: fmt.Sprintf("parsing response: %v", err)}
	}
	return resp.Views, nil
}

// GetBulkVideoStats returns stats records for many videos in one call.
func (c *Client) GetBulkVideoStats(ctx context.Context, eventIDs []string) ([]*types.VideoStats, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/videos/bulk-stats", nil, bulkStatsRequest{EventIDs: eventIDs})
	if err != nil {
		return nil, err
	}
	var resp videosResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ServiceError{Message: fmt.Sprintf("parsing response: %v", err)}
	}
	return resp.Videos, nil
}
