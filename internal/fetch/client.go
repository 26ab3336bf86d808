package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes bounds the size of a credential document.
const maxBodyBytes = 1 << 20

// StatusError reports a non-success response from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected response status %d", e.Code)
	}
	return fmt.Sprintf("unexpected response status %d: %s", e.Code, e.Body)
}

// Status returns the HTTP status associated with the failure.
func (e *StatusError) Status() (int, string) {
	return e.Code, http.StatusText(e.Code)
}

// Client retrieves JSON documents over HTTP. It satisfies
// credentials.Fetcher.
type Client struct {
	HTTP *http.Client
}

func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient}
}

// Fetch issues a GET to url, presenting token as a bearer token when it is not
// empty. Responses are never served from an intermediate cache. The body must
// be a JSON object.
func (c *Client) Fetch(ctx context.Context, url string, token string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting credentials: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: excerpt(body)}
	}

	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBodyBytes)
	}

	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil, errors.New("response is not valid JSON")
	}

	return json.RawMessage(body), nil
}

// excerpt returns the start of an error body for diagnostics.
func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
