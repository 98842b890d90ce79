// Package client talks to the grocery entry HTTP API on behalf of a signed-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/grocery-tracker/internal/entry"
)

// Fallback messages used when the server does not send an error body
const (
	msgPing      = "Failed api ping"
	msgCreate    = "Failed to create grocery entry"
	msgList      = "Failed to fetch grocery entries"
	msgUpdate    = "Failed to update grocery entry"
	msgDelete    = "Failed to delete grocery entry"
	msgScan      = "Failed to scan receipt"
	msgSubscribe = "Failed to subscribe to grocery entries"
)

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// TokenSource yields the bearer credential for the current user
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("no token configured")
	}
	return string(t), nil
}

// Client is the API gateway for grocery entries
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// New creates a Client for the server at baseURL
func New(baseURL string, tokens TokenSource) *Client {
	return NewWithHTTPClient(baseURL, tokens, &http.Client{})
}

// NewWithHTTPClient creates a Client with a custom HTTP client
func NewWithHTTPClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out when out is non-nil
func (c *Client) do(req *http.Request, fallback string, out any) error {
	start := time.Now()
	slog.Debug("API request started", "method", req.Method, "path", req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", fallback, err)
	}
	defer resp.Body.Close()

	slog.Debug("API request completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp, fallback)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", fallback, err)
	}
	return nil
}

func apiError(resp *http.Response, fallback string) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = fallback
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// Ping checks that the server is reachable and accepts the credential
func (c *Client) Ping(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/ping", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", msgPing, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp, msgPing)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", msgPing, err)
	}
	return string(body), nil
}

// CreateEntry stores a new entry and returns the saved record
func (c *Client) CreateEntry(ctx context.Context, p entry.Payload) (*entry.Entry, error) {
	body, err := jsonBody(p)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/groceryEntries", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var created entry.Entry
	if err := c.do(req, msgCreate, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListEntries returns every entry owned by the caller
func (c *Client) ListEntries(ctx context.Context) ([]*entry.Entry, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/groceryEntries", nil)
	if err != nil {
		return nil, err
	}

	entries := []*entry.Entry{}
	if err := c.do(req, msgList, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// UpdateEntry applies a partial update and returns the updated record
func (c *Client) UpdateEntry(ctx context.Context, id string, p entry.Payload) (*entry.Entry, error) {
	body, err := jsonBody(p)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPatch, "/api/groceryEntries/"+url.PathEscape(id), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var updated entry.Entry
	if err := c.do(req, msgUpdate, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteEntry removes an entry
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/groceryEntries/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, msgDelete, nil)
}

// ScanReceipt uploads a receipt and returns the suggested entry fields.
// Nothing is saved on the server.
func (c *Client) ScanReceipt(ctx context.Context, filename string, data []byte) (*entry.Payload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/groceryEntries/scan", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var suggestion entry.Payload
	if err := c.do(req, msgScan, &suggestion); err != nil {
		return nil, err
	}
	return &suggestion, nil
}
