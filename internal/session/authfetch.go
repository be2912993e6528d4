package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// AuthClient issues authenticated requests against the platform API.
// It attaches the session bearer credential and, when the first
// attempt returns 401, refreshes once and retries once. Responses are
// otherwise returned untouched: no classification, no further
// retries.
type AuthClient struct {
	baseURL string
	store   *Store
	http    *http.Client
}

// NewAuthClient builds an AuthClient. A nil httpClient gets a short
// default timeout.
func NewAuthClient(baseURL string, store *Store, httpClient *http.Client) *AuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AuthClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		store:   store,
		http:    httpClient,
	}
}

// Do executes one authenticated request for a relative path.
func (c *AuthClient) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, body, c.store.AccessToken())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	token, refreshErr := c.store.Refresh(ctx)
	if refreshErr != nil {
		// caller sees the original 401
		return resp, nil
	}
	resp.Body.Close()
	return c.send(ctx, method, path, body, token)
}

func (c *AuthClient) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}
