// Package paystack implements ports.Gateway against the Paystack REST API.
// Amounts are passed in subunits (kobo/cents), which matches the ledger's
// integer-cents convention with no conversion.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
)

const defaultBaseURL = "https://api.paystack.co"

type Client struct {
	BaseURL   string
	SecretKey string
	HTTP      *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

type initializeReq struct {
	Reference   string   `json:"reference"`
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    metadata `json:"metadata"`
}

type metadata struct {
	BuyerID string `json:"buyer_id"`
}

type initializeResp struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (c *Client) InitiateSession(ctx context.Context, req ports.InitiateRequest) (*ports.GatewaySession, error) {
	body := initializeReq{
		Reference:   req.Reference,
		Email:       req.Email,
		Amount:      req.AmountCents,
		CallbackURL: req.CallbackURL,
		Metadata:    metadata{BuyerID: req.BuyerID},
	}
	var out initializeResp
	if err := c.post(ctx, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack: initialize rejected: %s", out.Message)
	}
	return &ports.GatewaySession{
		Reference:        out.Data.Reference,
		AccessCode:       out.Data.AccessCode,
		AuthorizationURL: out.Data.AuthorizationURL,
	}, nil
}

type verifyResp struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Metadata  struct {
			BuyerID string `json:"buyer_id"`
		} `json:"metadata"`
	} `json:"data"`
}

func (c *Client) VerifySession(ctx context.Context, reference string) (*ports.GatewayVerification, error) {
	var out verifyResp
	if err := c.get(ctx, "/transaction/verify/"+reference, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack: verify rejected: %s", out.Message)
	}
	return &ports.GatewayVerification{
		Reference:   out.Data.Reference,
		Succeeded:   out.Data.Status == "success",
		AmountCents: out.Data.Amount,
		BuyerID:     out.Data.Metadata.BuyerID,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("paystack: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	return c.do(req, out)
}

// do executes the request with the bounded client timeout. A deadline hit
// maps to domain.ErrGatewayTimeout so the caller can retry with the same
// reference instead of assuming failure.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("paystack: %s: %w", req.URL.Path, domain.ErrGatewayTimeout)
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("paystack: %s: %w", req.URL.Path, domain.ErrGatewayTimeout)
		}
		return fmt.Errorf("paystack: %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("paystack: %s: upstream status %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("paystack: decode response: %w", err)
	}
	return nil
}
