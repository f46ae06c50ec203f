package credential

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// OAuthAuthorizer obtains access tokens from the GigaChat OAuth endpoint
type OAuthAuthorizer struct {
	authURL    string
	authKey    string
	scope      string
	httpClient *http.Client
}

// NewOAuthAuthorizer creates an authorizer. authKey is the base64 "client_id:secret" key.
func NewOAuthAuthorizer(authURL, authKey, scope string, insecureTLS bool) *OAuthAuthorizer {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		// The endpoint is signed by a national CA missing from most trust stores
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &OAuthAuthorizer{
		authURL: authURL,
		authKey: authKey,
		scope:   scope,
		httpClient: &http.Client{
			Timeout:   DefaultRefreshTimeout,
			Transport: transport,
		},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Authorize implements Authorizer
func (a *OAuthAuthorizer) Authorize(ctx context.Context, requestID string) (string, error) {
	form := url.Values{}
	form.Set("scope", a.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", requestID)
	req.Header.Set("Authorization", "Basic "+a.authKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return tr.AccessToken, nil
}
