package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// NewJSONRequest builds a request whose body is payload encoded as JSON.
func NewJSONRequest(ctx context.Context, method, rawURL string, payload any, headers map[string]string) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return newRequest(ctx, method, rawURL, body, "application/json", headers)
}

// NewFormRequest builds a request with an url-encoded form body.
func NewFormRequest(ctx context.Context, method, rawURL string, form url.Values, headers map[string]string) (*http.Request, error) {
	return newRequest(ctx, method, rawURL, []byte(form.Encode()), "application/x-www-form-urlencoded", headers)
}

// NewRawRequest builds a request with a pre-encoded body.
func NewRawRequest(ctx context.Context, method, rawURL string, body []byte, contentType string, headers map[string]string) (*http.Request, error) {
	return newRequest(ctx, method, rawURL, body, contentType, headers)
}

func newRequest(ctx context.Context, method, rawURL string, body []byte, contentType string, headers map[string]string) (*http.Request, error) {
	if len(body) > MaxRequestSize {
		return nil, fmt.Errorf("request body too large: %d bytes (max %d)", len(body), MaxRequestSize)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// JoinURL appends path to base without doubling slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// DecodeJSON unmarshals a response body into v.
func DecodeJSON(resp *Response, v any) error {
	if len(resp.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}
