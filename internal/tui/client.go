// Package tui is a small terminal client against the account-query
// endpoint, following the single-scene bubbletea model shape the
// teacher's own TUI uses for its scenes, narrowed to one query box
// instead of a multi-tab dashboard.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the account-query endpoint served by rpcserver.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// AccountStatus mirrors rpcserver's account-query response shape.
type AccountStatus struct {
	AccountID      string   `json:"account_id"`
	Status         string   `json:"status"`
	CompositeScore float64  `json:"composite_score"`
	Evidence       []string `json:"evidence"`
}

// NewClient builds a Client against baseURL (the --grpc-addr account
// query endpoint).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Lookup fetches the current status for accountID.
func (c *Client) Lookup(accountID string) (AccountStatus, error) {
	url := fmt.Sprintf("%s/v1/accounts/%s", c.baseURL, accountID)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return AccountStatus{}, fmt.Errorf("query account: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AccountStatus{}, fmt.Errorf("query account: server returned %s", resp.Status)
	}

	var status AccountStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return AccountStatus{}, fmt.Errorf("decode account status: %w", err)
	}
	return status, nil
}
