package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NewHTTPRefresher returns a RefreshFunc posting to the platform's
// auth/refresh endpoint. A nil client gets a short default timeout.
func NewHTTPRefresher(baseURL string, client *http.Client) RefreshFunc {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	endpoint := strings.TrimSuffix(baseURL, "/") + "/auth/refresh"

	return func(ctx context.Context, refreshToken string) (Tokens, error) {
		payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
		if err != nil {
			return Tokens{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return Tokens{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return Tokens{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return Tokens{}, fmt.Errorf("token refresh failed with status %d", resp.StatusCode)
		}
		var tokens Tokens
		if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
			return Tokens{}, fmt.Errorf("decode refresh response: %w", err)
		}
		if tokens.Access == "" {
			return Tokens{}, errors.New("refresh response missing access token")
		}
		return tokens, nil
	}
}
