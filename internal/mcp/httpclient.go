package mcp

import (
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

	"github.com/meltforce/pushreps/internal/session"
	"github.com/meltforce/pushreps/internal/stats"
)

// errNotFound is returned by get for a 404 response.
var errNotFound = errors.New("httpclient: not found")

// HTTPClient implements DataSource by calling the PushReps REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s: %s", errNotFound, path, body)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	return body, nil
}

func (c *HTTPClient) CurrentSession(ctx context.Context) (*session.Session, error) {
	body, err := c.get(ctx, "/api/v1/workouts/current", nil)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s session.Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("httpclient: decode session: %w", err)
	}
	return &s, nil
}

func (c *HTTPClient) SessionHistory(ctx context.Context, limit, offset int) ([]session.Session, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.get(ctx, "/api/v1/workouts", params)
	if err != nil {
		return nil, err
	}
	var result []session.Session
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("httpclient: decode sessions: %w", err)
	}
	return result, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id string) (*session.Session, error) {
	body, err := c.get(ctx, "/api/v1/workouts/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var s session.Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("httpclient: decode session: %w", err)
	}
	return &s, nil
}

func (c *HTTPClient) DetectionStats(ctx context.Context) (*stats.DetectionStats, error) {
	body, err := c.get(ctx, "/api/v1/detection/stats", nil)
	if err != nil {
		return nil, err
	}
	var st stats.DetectionStats
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("httpclient: decode detection stats: %w", err)
	}
	return &st, nil
}

func (c *HTTPClient) Summary(ctx context.Context, since time.Time) (*session.Summary, error) {
	params := url.Values{}
	params.Set("since", since.Format(time.RFC3339))

	body, err := c.get(ctx, "/api/v1/workouts/summary", params)
	if err != nil {
		return nil, err
	}
	var sum session.Summary
	if err := json.Unmarshal(body, &sum); err != nil {
		return nil, fmt.Errorf("httpclient: decode summary: %w", err)
	}
	return &sum, nil
}
