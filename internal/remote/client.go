package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/hweilin/ordersync/internal/errors"
)

// ClientConfig holds remote backend connection configuration.
// Authenticated writes require the terminal id and API key headers.
type ClientConfig struct {
	BaseURL    string
	TerminalID string
	APIKey     string
	Timeout    time.Duration
}

// Client implements Backend over HTTP.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new remote backend client.
func NewClient(config *ClientConfig) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// UpsertOrder pushes an order snapshot keyed by local id.
func (c *Client) UpsertOrder(ctx context.Context, payload json.RawMessage) (*UpsertResult, error) {
	var result UpsertResult
	if err := c.do(ctx, http.MethodPut, "/v1/orders/upsert", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOrderRevision fetches the remote's stored revision for a local id.
func (c *Client) GetOrderRevision(ctx context.Context, localID string) (*RemoteRevision, error) {
	var result RemoteRevision
	path := "/v1/orders/revision?local_id=" + url.QueryEscape(localID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchAddresses queries the live autocomplete endpoint.
func (c *Client) SearchAddresses(ctx context.Context, query string) ([]Suggestion, error) {
	var result []Suggestion
	path := "/v1/addresses/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Source = "online"
	}
	return result, nil
}

// ResolveAddress fetches full place details for a suggestion.
func (c *Client) ResolveAddress(ctx context.Context, suggestionID string) (*ResolvedAddress, error) {
	var result ResolvedAddress
	path := "/v1/addresses/" + url.PathEscape(suggestionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateZone checks a delivery address against live zones.
func (c *Client) ValidateZone(ctx context.Context, address string, lat, lng float64) (*ZoneCheck, error) {
	body, err := json.Marshal(map[string]interface{}{
		"address":   address,
		"latitude":  lat,
		"longitude": lng,
	})
	if err != nil {
		return nil, err
	}

	var result ZoneCheck
	if err := c.do(ctx, http.MethodPost, "/v1/zones/validate", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchZoneSnapshot downloads the offline validation snapshot.
func (c *Client) FetchZoneSnapshot(ctx context.Context) ([]ZoneSnapshotEntry, error) {
	var result []ZoneSnapshotEntry
	if err := c.do(ctx, http.MethodGet, "/v1/zones/snapshot", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Ping probes connectivity with a cheap health check.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// do executes one request and classifies failures into the error
// taxonomy: transport errors and timeouts are retryable, 4xx rejects
// are not.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Terminal-ID", c.config.TerminalID)
	req.Header.Set("X-API-Key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts surface two ways: context deadline, or the
		// http.Client.Timeout firing as a net.Error.
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return apperrors.Wrap(apperrors.ErrRemoteTimeout, "remote call timed out", err)
		}
		return apperrors.Wrap(apperrors.ErrNetwork, "remote call failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return apperrors.New(apperrors.ErrRemoteTimeout,
			fmt.Sprintf("remote returned status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.ErrNetwork,
			fmt.Sprintf("remote returned status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrPermission, "remote rejected terminal credentials")
	default:
		data, _ := io.ReadAll(resp.Body)
		return apperrors.New(apperrors.ErrRemoteRejected,
			fmt.Sprintf("remote returned status %d: %s", resp.StatusCode, string(data)))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "failed to decode remote response", err)
	}

	return nil
}
