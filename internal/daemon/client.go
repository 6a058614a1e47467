package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a thin HTTP client for the CLI to talk to a running daemon
// over its REST surface (spec §4.12/§4.14).
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client targeting the daemon at baseURL (e.g.
// "http://127.0.0.1:8765").
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return c.http.Do(req)
}

// IsRunning reports whether the daemon answers /api/health.
func (c *Client) IsRunning() bool {
	resp, err := c.http.Get(c.baseURL + "/api/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Query calls GET /api/query.
func (c *Client) Query(queryText string, topK int, index string) (queryResponse, error) {
	u, err := url.Parse(c.baseURL + "/api/query")
	if err != nil {
		return queryResponse{}, err
	}
	q := u.Query()
	q.Set("q", queryText)
	if topK > 0 {
		q.Set("k", strconv.Itoa(topK))
	}
	if index != "" {
		q.Set("index", index)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return queryResponse{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return queryResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return queryResponse{}, decodeClientError(resp)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return queryResponse{}, err
	}
	return out, nil
}

// ListIndexes calls GET /api/indexes.
func (c *Client) ListIndexes() (listIndexesResponse, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/indexes", nil)
	if err != nil {
		return listIndexesResponse{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return listIndexesResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return listIndexesResponse{}, decodeClientError(resp)
	}

	var out listIndexesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return listIndexesResponse{}, err
	}
	return out, nil
}

// SwitchIndex calls POST /api/indexes/active?name=....
func (c *Client) SwitchIndex(name string) (string, error) {
	u := c.baseURL + "/api/indexes/active?name=" + url.QueryEscape(name)
	req, err := http.NewRequest(http.MethodPost, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeClientError(resp)
	}

	var out activeIndexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Active, nil
}

func decodeClientError(resp *http.Response) error {
	var wire struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", wire.Kind, wire.Message)
}
