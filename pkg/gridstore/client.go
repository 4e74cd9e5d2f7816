package gridstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mealrota/canteenbot/pkg/logger"
)

const pageSize = 500

// Client talks to the remote grid API over HTTP. Every call is bounded by
// the client timeout; network failures, rate limits and server errors come
// back wrapped in ErrTransient.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates a remote store client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.New("gridstore"),
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type listFieldsPage struct {
	Items     []FieldMeta `json:"items"`
	HasMore   bool        `json:"has_more"`
	PageToken string      `json:"page_token"`
}

type listRecordsPage struct {
	Items     []Record `json:"items"`
	HasMore   bool     `json:"has_more"`
	PageToken string   `json:"page_token"`
}

type recordData struct {
	Record Record `json:"record"`
}

// ListFields fetches the table's schema, following pagination
func (c *Client) ListFields(ctx context.Context, tableID string) ([]FieldMeta, error) {
	var items []FieldMeta
	pageToken := ""
	for {
		query := url.Values{"page_size": {fmt.Sprint(pageSize)}}
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}
		var page listFieldsPage
		if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/tables/%s/fields", tableID), query, nil, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if !page.HasMore {
			return items, nil
		}
		pageToken = page.PageToken
	}
}

// ListRecords fetches all rows of a table in append order, following pagination
func (c *Client) ListRecords(ctx context.Context, tableID string) ([]Record, error) {
	var items []Record
	pageToken := ""
	for {
		query := url.Values{"page_size": {fmt.Sprint(pageSize)}}
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}
		var page listRecordsPage
		if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/tables/%s/records", tableID), query, nil, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if !page.HasMore {
			return items, nil
		}
		pageToken = page.PageToken
	}
}

// CreateRecord appends a row and returns its record id
func (c *Client) CreateRecord(ctx context.Context, tableID string, fields map[string]interface{}) (string, error) {
	body := map[string]interface{}{"fields": fields}
	var data recordData
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/tables/%s/records", tableID), nil, body, &data); err != nil {
		return "", err
	}
	if data.Record.ID == "" {
		return "", fmt.Errorf("create record in %s: empty record id in response", tableID)
	}
	return data.Record.ID, nil
}

// UpdateRecord rewrites the given fields of an existing row
func (c *Client) UpdateRecord(ctx context.Context, tableID string, recordID string, fields map[string]interface{}) error {
	body := map[string]interface{}{"fields": fields}
	return c.call(ctx, http.MethodPatch, fmt.Sprintf("/tables/%s/records/%s", tableID, recordID), nil, body, nil)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%s %s: api error code=%d msg=%s", method, path, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: failed to decode data: %w", method, path, err)
		}
	}
	return nil
}
