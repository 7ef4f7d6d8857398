// Package cart is the HTTP client for the shopping cart service.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Item struct {
	BookID   int64           `json:"book_id"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type Cart struct {
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// GetCart returns the active cart of the user, or nil when the user has none.
func (c *Client) GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/cart", nil)
	if err != nil {
		return nil, fmt.Errorf("cart: failed to build request: %w", err)
	}
	req.Header.Set("X-User-Id", userID.String())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cart: failed to fetch cart of user %s: %w", userID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cart: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cart Cart
	if err := json.NewDecoder(resp.Body).Decode(&cart); err != nil {
		return nil, fmt.Errorf("cart: failed to decode cart of user %s: %w", userID, err)
	}
	return &cart, nil
}
