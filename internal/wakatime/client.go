// Package wakatime is the client for the WakaTime data API.
//
// Only two endpoints are used: the current user's profile and the per-day
// summaries of a date range. Both are authorized with a per-user OAuth
// access token, passed in on every call; the client itself holds no user
// state and is safe for concurrent use.
//
// Credential exchange and refresh are not here: they live with the OAuth
// provider in internal/auth.
package wakatime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/sakif/coding-leaderboard/internal/metrics"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://wakatime.com/api/v1"

var (
	// ErrUnauthorized means WakaTime rejected the access token (401/403).
	// The credential is revoked or lacks scope; retrying will not help.
	ErrUnauthorized = errors.New("wakatime: unauthorized")

	// ErrUnavailable covers every other non-2xx response, transport failures
	// and an open circuit breaker. A later retry may succeed.
	ErrUnavailable = errors.New("wakatime: unavailable")
)

// Profile is the subset of /users/current the leaderboard stores.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photo"`
}

// DayTotal is the coding time of one calendar day.
type DayTotal struct {
	Date         string
	TotalSeconds int64
}

// API is what the rest of the service needs from WakaTime.
// *Client and *BreakerClient both implement it.
type API interface {
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
	FetchRangeSummary(ctx context.Context, accessToken, start, end string) ([]DayTotal, error)
}

// Client calls the WakaTime API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client rooted at baseURL (DefaultBaseURL when empty).
// httpClient is the transport the bearer token is layered on; nil means a
// client with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type profileResponse struct {
	Data Profile `json:"data"`
}

// FetchProfile returns the profile of the user the token belongs to.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var body profileResponse
	if err := c.get(ctx, accessToken, "profile", "/users/current", nil, &body); err != nil {
		return nil, err
	}
	if body.Data.ID == "" {
		return nil, errors.New("wakatime: profile response has no user id")
	}
	return &body.Data, nil
}

// summariesResponse mirrors /users/current/summaries. Only the date and the
// grand total of each day are read.
type summariesResponse struct {
	Data []struct {
		Range struct {
			Date string `json:"date"`
		} `json:"range"`
		GrandTotal *struct {
			TotalSeconds float64 `json:"total_seconds"`
		} `json:"grand_total"`
	} `json:"data"`
}

// FetchRangeSummary returns one DayTotal per day WakaTime reports in
// [start, end] (inclusive, "YYYY-MM-DD").
//
// The result is sparse: days WakaTime leaves out are simply missing, and a
// day without a grand total counts as 0. Fractional seconds are floored.
func (c *Client) FetchRangeSummary(ctx context.Context, accessToken, start, end string) ([]DayTotal, error) {
	query := url.Values{}
	query.Set("start", start)
	query.Set("end", end)

	var body summariesResponse
	if err := c.get(ctx, accessToken, "summaries", "/users/current/summaries", query, &body); err != nil {
		return nil, err
	}

	days := make([]DayTotal, 0, len(body.Data))
	for _, d := range body.Data {
		var secs int64
		if d.GrandTotal != nil {
			secs = int64(math.Floor(d.GrandTotal.TotalSeconds))
		}
		if secs < 0 {
			secs = 0
		}
		days = append(days, DayTotal{Date: d.Range.Date, TotalSeconds: secs})
	}
	return days, nil
}

// get performs an authorized GET and decodes the JSON body into out.
//
// oauth2.NewClient wraps the configured http.Client in a transport that
// adds "Authorization: Bearer <token>" to the request.
func (c *Client) get(ctx context.Context, accessToken, endpoint, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("wakatime: building %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	authCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(authCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	resp, err := client.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "transport_error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s request: %v", ErrUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.UpstreamRequests.WithLabelValues(endpoint, "unauthorized").Inc()
		return fmt.Errorf("%w: %s returned %d", ErrUnauthorized, endpoint, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.UpstreamRequests.WithLabelValues(endpoint, "unavailable").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "malformed").Inc()
		return fmt.Errorf("wakatime: decoding %s response: %w", endpoint, err)
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}
