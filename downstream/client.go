// Package downstream is the outbound client to the banking
// collaborator the workflow engine executes actions against: account
// balance, transfers, statements, and loan inquiries. It is out of
// scope as a system (the real banking logic lives elsewhere) but its
// contract is part of this package's surface, modeled as a plain REST
// client with a per-call timeout.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ledgerflow/workflow/errs"
)

// Client is the contract banking graph nodes call against. A Client
// implementation must never block past its configured timeout.
type Client interface {
	GetBalance(ctx context.Context, accountID string) (Balance, error)
	Transfer(ctx context.Context, fromAccount, toAccount string, amount float64) (TransferResult, error)
	GetStatement(ctx context.Context, accountID string) (string, error)
	GetLoan(ctx context.Context, accountID string) (string, error)
}

// Balance is the decoded response of GET /api/balance.
type Balance struct {
	AccountID string  `json:"accountId"`
	Balance   float64 `json:"balance"`
}

// TransferResult is the decoded response of POST /api/transfer.
type TransferResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HTTPClient is the real Client implementation, talking to BaseURL
// over plain HTTP+JSON with Timeout applied per call.
type HTTPClient struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL with the given
// per-call timeout (config key downstream.timeout_ms, default 60s).
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Timeout: timeout,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	var out Balance
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/balance?accountId=%s", accountID), nil, &out)
	return out, err
}

func (c *HTTPClient) Transfer(ctx context.Context, fromAccount, toAccount string, amount float64) (TransferResult, error) {
	body := map[string]any{
		"fromAccount": fromAccount,
		"toAccount":   toAccount,
		"amount":      amount,
	}
	var out TransferResult
	err := c.doJSON(ctx, http.MethodPost, "/api/transfer", body, &out)
	return out, err
}

func (c *HTTPClient) GetStatement(ctx context.Context, accountID string) (string, error) {
	return c.doText(ctx, fmt.Sprintf("/api/statement?accountId=%s", accountID))
}

func (c *HTTPClient) GetLoan(ctx context.Context, accountID string) (string, error) {
	return c.doText(ctx, fmt.Sprintf("/api/loan?accountId=%s", accountID))
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errs.Downstream(path, "encode request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return errs.Downstream(path, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errs.Downstream(path, "call downstream collaborator", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Downstream(path, "read response body", err)
	}
	if resp.StatusCode >= 400 {
		return errs.Downstream(path, fmt.Sprintf("downstream returned status %d: %s", resp.StatusCode, string(data)), nil)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errs.Downstream(path, "decode response body", err)
		}
	}
	return nil
}

func (c *HTTPClient) doText(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return "", errs.Downstream(path, "build request", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", errs.Downstream(path, "call downstream collaborator", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Downstream(path, "read response body", err)
	}
	if resp.StatusCode >= 400 {
		return "", errs.Downstream(path, fmt.Sprintf("downstream returned status %d: %s", resp.StatusCode, string(data)), nil)
	}
	return string(data), nil
}
