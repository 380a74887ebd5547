// Package client talks to a running flowtriage API server.
package client

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

	"github.com/rsclarke/flowtriage/internal/api"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    http.DefaultClient,
	}
}

// Error is returned for non-2xx responses.
type Error struct {
	Status int
	Kind   string
	Stage  string
	Msg    string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s at %s, status %d)", e.Msg, e.Kind, e.Stage, e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Msg, e.Status)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/ping", nil, nil)
}

func (c *Client) Analyze(ctx context.Context, req api.AnalyzeRequest) (*api.AnalyzeResponse, error) {
	var result api.AnalyzeResponse
	if err := c.do(ctx, http.MethodPost, "/api/analyze", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History lists grouped prediction counts. Zero times leave the range open.
func (c *Client) History(ctx context.Context, start, end time.Time) (*api.HistoryResponse, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	path := "/api/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status returns the store status. A 503 still carries a status body,
// which is returned alongside the error.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result api.StatusResponse
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		return &result, nil
	case http.StatusServiceUnavailable:
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, &Error{Status: resp.StatusCode, Msg: "status unavailable"}
		}
		return &result, &Error{Status: resp.StatusCode, Msg: result.Error}
	default:
		return nil, parseError(resp)
	}
}

func (c *Client) Interfaces(ctx context.Context) (*api.InterfacesResponse, error) {
	var result api.InterfacesResponse
	if err := c.do(ctx, http.MethodGet, "/api/interfaces", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Artifacts(ctx context.Context) (*api.ArtifactsResponse, error) {
	var result api.ArtifactsResponse
	if err := c.do(ctx, http.MethodGet, "/api/artifacts", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RebuildArtifacts(ctx context.Context) (*api.ArtifactsResponse, error) {
	var result api.ArtifactsResponse
	if err := c.do(ctx, http.MethodPost, "/api/artifacts/rebuild", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Status: resp.StatusCode, Msg: "request failed"}
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &Error{Status: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
	}
	return &Error{Status: resp.StatusCode, Kind: errResp.Kind, Stage: errResp.Stage, Msg: errResp.Error}
}
