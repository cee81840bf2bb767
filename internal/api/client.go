package api

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

// Client talks to the retrieval-augmented QA backend
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds non-streaming requests. The streaming query is bounded
// only by its context, since answers can take arbitrarily long to generate.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func NewClient(baseURL, userID string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserID returns the identity sent with every request
func (c *Client) UserID() string {
	return c.userID
}

// Error is a non-2xx reply from the backend
type Error struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Detail)
}

// newError reads the FastAPI {"detail": ...} body, falling back to raw text
func newError(resp *http.Response) *Error {
	e := &Error{
		Method: resp.Request.Method,
		Path:   resp.Request.URL.Path,
		Status: resp.StatusCode,
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return e
	}

	var detailResp struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &detailResp) == nil && len(detailResp.Detail) > 0 {
		var s string
		if json.Unmarshal(detailResp.Detail, &s) == nil {
			e.Detail = s
		} else {
			// Validation errors arrive as a list of objects
			e.Detail = string(detailResp.Detail)
		}
		return e
	}

	e.Detail = strings.TrimSpace(string(body))
	return e
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) userQuery() url.Values {
	return url.Values{"user_id": {c.userID}}
}

func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, endpoint string, body interface{}, headers map[string]string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	return resp, nil
}

// doJSON performs a request and decodes a 2xx JSON reply into out (if non-nil)
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, c.httpClient, method, endpoint, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
