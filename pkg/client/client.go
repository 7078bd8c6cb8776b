// Package client is a Go client for the ledger HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one ledger service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		http:    &http.Client{Timeout: config.Timeout},
	}, nil
}

// IsConflict reports whether err is a rejected stale write.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// Health checks connectivity. It needs no API key.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Sync runs a sync now, or waits for the one in flight.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	var res SyncResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SyncStatus returns the sync state machine's current view.
func (c *Client) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	var st SyncStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetOnline reports a connectivity transition.
func (c *Client) SetOnline(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/events/connectivity", map[string]bool{"online": online}, nil)
}

// SetVisible reports an app visibility transition.
func (c *Client) SetVisible(ctx context.Context, visible bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/events/visibility", map[string]bool{"visible": visible}, nil)
}

// Counts returns per-collection record counts.
func (c *Client) Counts(ctx context.Context) (*Counts, error) {
	var counts Counts
	if err := c.do(ctx, http.MethodGet, "/api/v1/counts", nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// PutProfile replaces the organization profile document.
func (c *Client) PutProfile(ctx context.Context, profile any) error {
	return c.do(ctx, http.MethodPut, "/api/v1/profile", profile, nil)
}

// PutCustomer creates or updates a customer. Set Version to the version
// last read to have a concurrent update rejected.
func (c *Client) PutCustomer(ctx context.Context, cust Customer) (*Customer, error) {
	var saved Customer
	if err := c.do(ctx, http.MethodPut, "/api/v1/customers/"+url.PathEscape(cust.ID), cust, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// PutProduct creates or updates a product.
func (c *Client) PutProduct(ctx context.Context, p Product) (*Product, error) {
	var saved Product
	if err := c.do(ctx, http.MethodPut, "/api/v1/products/"+url.PathEscape(p.ID), p, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

type salesOrderBody struct {
	Order SalesOrder       `json:"order"`
	Items []SalesOrderItem `json:"items"`
}

// PutSalesOrder creates or updates a sales order, replacing its items.
func (c *Client) PutSalesOrder(ctx context.Context, o SalesOrder, items []SalesOrderItem) (*SalesOrder, []SalesOrderItem, error) {
	var saved salesOrderBody
	body := salesOrderBody{Order: o, Items: items}
	if err := c.do(ctx, http.MethodPut, "/api/v1/sales-orders/"+url.PathEscape(o.ID), body, &saved); err != nil {
		return nil, nil, err
	}
	return &saved.Order, saved.Items, nil
}

type purchaseOrderBody struct {
	Order PurchaseOrder       `json:"order"`
	Items []PurchaseOrderItem `json:"items"`
}

// PutPurchaseOrder creates or updates a purchase order, replacing its items.
func (c *Client) PutPurchaseOrder(ctx context.Context, o PurchaseOrder, items []PurchaseOrderItem) (*PurchaseOrder, []PurchaseOrderItem, error) {
	var saved purchaseOrderBody
	body := purchaseOrderBody{Order: o, Items: items}
	if err := c.do(ctx, http.MethodPut, "/api/v1/purchase-orders/"+url.PathEscape(o.ID), body, &saved); err != nil {
		return nil, nil, err
	}
	return &saved.Order, saved.Items, nil
}

// do sends an authenticated request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
