package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrProductNotFound means the inventory service answered 404 for the
	// product. Distinct from ErrUnavailable and from business out-of-stock.
	ErrProductNotFound = errors.New("product not found")
	// ErrUnavailable means the remote call itself failed: network error,
	// timeout, or a 5xx answer.
	ErrUnavailable = errors.New("inventory fetch failed")
)

// Availability is the inventory service's answer for one product: resolved
// display name and unit price, whether the requested quantity is in stock,
// and whether the product is administratively enabled.
type Availability struct {
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	InStock        bool   `json:"in_stock"`
	State          bool   `json:"state"`
}

type ConsumedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Client is the outbound boundary to the inventory/catalog service. Check is
// synchronous and blocks the request; CommitConsumption and CreditReturn are
// called by the async notifier only.
type Client interface {
	Check(ctx context.Context, productID string, quantity int) (Availability, error)
	CommitConsumption(ctx context.Context, items []ConsumedItem) error
	CreditReturn(ctx context.Context, productID string, quantity int) error
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type checkRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (c *HTTPClient) Check(ctx context.Context, productID string, quantity int) (Availability, error) {
	var availability Availability
	resp, err := c.post(ctx, "/inventory/check", checkRequest{ProductID: productID, Quantity: quantity})
	if err != nil {
		return Availability{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Availability{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	case resp.StatusCode >= 500:
		return Availability{}, fmt.Errorf("%w: inventory answered %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Availability{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&availability); err != nil {
		return Availability{}, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return availability, nil
}

func (c *HTTPClient) CommitConsumption(ctx context.Context, items []ConsumedItem) error {
	resp, err := c.post(ctx, "/inventory/commit", items)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: commit answered %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) CreditReturn(ctx context.Context, productID string, quantity int) error {
	resp, err := c.post(ctx, "/inventory/credit", checkRequest{ProductID: productID, Quantity: quantity})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: credit answered %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}
