// Package catalog is the HTTP client for the book catalog service.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBookNotFound      = errors.New("book not found")
	ErrInsufficientStock = errors.New("catalog rejected stock adjustment")
)

type Book struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	Author string          `json:"author"`
	ISBN   string          `json:"isbn"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
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

func (c *Client) GetBook(ctx context.Context, bookID int64) (*Book, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bookURL(bookID), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to build request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to fetch book %d: %w", bookID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
	case resp.StatusCode != http.StatusOK:
		return nil, unexpectedStatus("fetch book", resp)
	}

	var book Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("catalog: failed to decode book %d: %w", bookID, err)
	}
	return &book, nil
}

// AdjustStock adds delta (negative to reserve) to the stock of a book in a
// single catalog-side operation.
func (c *Client) AdjustStock(ctx context.Context, bookID int64, delta int) error {
	body, err := json.Marshal(map[string]int{"delta": delta})
	if err != nil {
		return fmt.Errorf("catalog: failed to encode stock adjustment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bookURL(bookID)+"/stock/adjust", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("catalog: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: failed to update stock of book %d: %w", bookID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
	case http.StatusConflict:
		return fmt.Errorf("%w: book %d", ErrInsufficientStock, bookID)
	default:
		return unexpectedStatus("update stock", resp)
	}
}

func (c *Client) bookURL(bookID int64) string {
	return c.BaseURL + "/books/" + strconv.FormatInt(bookID, 10)
}

func unexpectedStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("catalog: %s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
