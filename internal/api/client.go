// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/pkg/core"
)

// Client submits laps to a remote NeuralLap community server. It satisfies
// storage.Backend so it can stand in for a local database.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var (
	_ storage.Backend = (*Client)(nil)
	_ storage.Leagues = (*Client)(nil)
)

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Healthcheck checks if the community server is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Init is a no-op; reachability is reported by Healthcheck.
func (c *Client) Init() error {
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// RecordLap is a no-op: the community server only keeps league entries.
func (c *Client) RecordLap(context.Context, core.LapReport, core.Session) error {
	return nil
}

// SubmitLap posts a lap to the league submission endpoint.
func (c *Client) SubmitLap(ctx context.Context, s core.LapSubmission) error {
	return c.do(ctx, http.MethodPost, "/community/leagues/submit", s, nil)
}

// Leagues lists the server's leagues.
func (c *Client) Leagues(ctx context.Context) ([]core.League, error) {
	var out []core.League
	if err := c.do(ctx, http.MethodGet, "/community/leagues/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateLeague creates a league on the server.
func (c *Client) CreateLeague(ctx context.Context, l core.League) (core.League, error) {
	var out core.League
	if err := c.do(ctx, http.MethodPost, "/community/leagues/", l, &out); err != nil {
		return core.League{}, err
	}
	return out, nil
}

// Entries fetches a league's entries sorted server side.
func (c *Client) Entries(ctx context.Context, leagueID uint, criteria string) ([]core.LeagueEntry, error) {
	path := fmt.Sprintf("/community/leagues/%d/entries", leagueID)
	if criteria != "" {
		path += "?sort_by=" + url.QueryEscape(criteria)
	}
	var out []core.LeagueEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", storage.ErrPersistence, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", storage.ErrPersistence, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", storage.ErrPersistence, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && strings.Contains(path, "/leagues"):
		return fmt.Errorf("%w: %s", storage.ErrLeagueNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s %s returned status %d", storage.ErrPersistence, method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", storage.ErrPersistence, err)
	}
	return nil
}
