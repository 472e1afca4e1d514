// Package catalog is the HTTP client for the external product catalog
// collaborator. The core only reads price, seller and availability by id.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

type productResp struct {
	ID         string `json:"id"`
	SellerID   string `json:"seller_id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	Available  bool   `json:"available"`
}

func (c *Client) Product(ctx context.Context, id string) (*ports.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/products/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: get product %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: get product %s: status %d", id, resp.StatusCode)
	}
	var out productResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("catalog: decode product %s: %w", id, err)
	}
	return &ports.Product{
		ID:         out.ID,
		SellerID:   out.SellerID,
		Title:      out.Title,
		PriceCents: out.PriceCents,
		Available:  out.Available,
	}, nil
}
