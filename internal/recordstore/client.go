package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a thin HTTP client for the external record store. It speaks the
// store's generic per-collection CRUD and list-with-filter API; typed
// validation and filter construction live in the gateway above it.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a record-store client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health checks that the store is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

// Create inserts a new record into a collection and decodes the created
// record (including its store-assigned id) into out.
func (c *Client) Create(ctx context.Context, collection string, body, out any) error {
	path := fmt.Sprintf("/api/collections/%s/records", url.PathEscape(collection))
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Update applies a partial update to an existing record. Fields absent from
// body are left untouched.
func (c *Client) Update(ctx context.Context, collection, id string, body, out any) error {
	path := fmt.Sprintf("/api/collections/%s/records/%s", url.PathEscape(collection), url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete removes a record. Deleting an absent record yields ErrNotFound.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	path := fmt.Sprintf("/api/collections/%s/records/%s", url.PathEscape(collection), url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// GetFirstListItem returns the first record matching filter, or ErrNotFound
// when nothing matches.
func (c *Client) GetFirstListItem(ctx context.Context, collection, filter string, out any) error {
	items, err := c.list(ctx, collection, filter)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("first item of %s matching %q: %w", collection, filter, ErrNotFound)
	}
	if err := json.Unmarshal(items[0], out); err != nil {
		return fmt.Errorf("decode %s record: %w", collection, err)
	}
	return nil
}

// GetFullList fetches every record matching filter into out, which must be
// a pointer to a slice of the collection's record type.
func (c *Client) GetFullList(ctx context.Context, collection, filter string, out any) error {
	items, err := c.list(ctx, collection, filter)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("re-encode %s list: %w", collection, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s list: %w", collection, err)
	}
	return nil
}

func (c *Client) list(ctx context.Context, collection, filter string) ([]json.RawMessage, error) {
	path := fmt.Sprintf("/api/collections/%s/records", url.PathEscape(collection))
	query := url.Values{}
	if filter != "" {
		query.Set("filter", filter)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			Op:  op,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
