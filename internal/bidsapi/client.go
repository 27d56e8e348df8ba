// Package bidsapi is the REST collaborator for paginated bid history and
// the accept-bid mutation. The realtime core consumes it through the
// ledger.BidFetcher contract; endpoint design beyond that contract is out
// of scope here.
package bidsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudtrack/bidcore/internal/auction"
	"github.com/cloudtrack/bidcore/internal/realtime"
)

// Client calls the auction service's REST surface.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  realtime.TokenSource
}

// NewClient creates a REST client for the given base URL. The token
// source supplies the bearer token per request.
func NewClient(baseURL string, tokens realtime.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: tokens,
	}
}

// SetTimeout overrides the default request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// FetchBids returns one page of bid history for an auction. Implements
// ledger.BidFetcher.
func (c *Client) FetchBids(ctx context.Context, auctionID string, pageNo, limit int, sort auction.SortOrder) (*auction.BidPage, error) {
	q := url.Values{}
	q.Set("pageNo", strconv.Itoa(pageNo))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortOrder", string(sort))

	endpoint := fmt.Sprintf("/auctions/%s/bids?%s", url.PathEscape(auctionID), q.Encode())
	body, err := c.makeRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var page auction.BidPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode bid page: %w", err)
	}
	return &page, nil
}

// AcceptBid asks the server to accept the bid with the given rank. The
// server enforces that at most one bid per auction is accepted.
func (c *Client) AcceptBid(ctx context.Context, auctionID string, rank int) error {
	payload, err := json.Marshal(map[string]int{"rank": rank})
	if err != nil {
		return fmt.Errorf("encode accept request: %w", err)
	}

	endpoint := fmt.Sprintf("/auctions/%s/bids/accept", url.PathEscape(auctionID))
	if _, err := c.makeRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("accept bid rank %d: %w", rank, err)
	}
	return nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return responseBody, nil
}
