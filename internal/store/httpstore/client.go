// Package httpstore is a RecordStore that talks to a callqueue record server.
package httpstore

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

	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/store"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// ActorHeader carries the operator name on writes so the server can
// attribute the change events it publishes.
const ActorHeader = "X-Callqueue-Actor"

// APIError is a non-2xx response from the record server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client wraps HTTP calls to the record server.
type Client struct {
	baseURL    string
	actor      string
	httpClient *http.Client
}

var (
	_ store.RecordStore = (*Client)(nil)
	_ store.Creator     = (*Client)(nil)
)

// NewClient creates a client with the default timeout. actor may be empty.
func NewClient(baseURL, actor string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   actor,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List fetches records matching the filter.
func (c *Client) List(ctx context.Context, filter models.Filter) ([]models.Record, error) {
	q := url.Values{}
	for _, s := range filter.Statuses {
		q.Add("status", string(s))
	}
	if filter.Assignee != "" {
		q.Set("assignee", filter.Assignee)
		if filter.IncludeUnassigned {
			q.Set("unassigned", "true")
		}
	}
	path := "/records"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}

	var records []models.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// GetByID fetches one record; a 404 is reported as nil with no error.
func (c *Client) GetByID(ctx context.Context, id string) (*models.Record, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}

	var rec models.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// Update sends a partial write.
func (c *Client) Update(ctx context.Context, id string, upd models.Update) error {
	body, status, err := c.do(ctx, http.MethodPatch, "/records/"+url.PathEscape(id), upd)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return store.ErrNotFound
	}
	if status >= 400 {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

// Create inserts a record.
func (c *Client) Create(ctx context.Context, rec models.Record) (*models.Record, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/records", rec)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}

	var created models.Record
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &created, nil
}

// CheckHealth reports whether the server answers its health check.
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, nil
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return false, err
	}
	return health.Status == "ok", nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(ActorHeader, c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
