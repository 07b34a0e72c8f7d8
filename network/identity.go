package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// SignInResult is an identity-provider token pair.
type SignInResult struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn,omitempty"`
	Email        string `json:"email,omitempty"`
	LocalID      string `json:"localId,omitempty"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
}

// IdentityClient talks to the identity provider's REST API.
type IdentityClient struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	apiKey string
}

// NewIdentityClient creates an identity-provider client. apiKey may be set later with SetAPIKey.
func NewIdentityClient(baseURL, apiKey string, timeout time.Duration) *IdentityClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &IdentityClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetAPIKey installs the API key appended to every request.
func (c *IdentityClient) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// HasAPIKey reports whether an API key is installed.
func (c *IdentityClient) HasAPIKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// SignInWithCustomToken exchanges a backend-issued custom token for an id token pair.
func (c *IdentityClient) SignInWithCustomToken(ctx context.Context, customToken string) (*SignInResult, error) {
	body := map[string]any{"token": customToken, "returnSecureToken": true}
	var resp SignInResult
	if err := c.post(ctx, "accounts:signInWithCustomToken", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignInWithPassword signs in with email and password.
func (c *IdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*SignInResult, error) {
	body := map[string]any{"email": email, "password": password, "returnSecureToken": true}
	var resp SignInResult
	if err := c.post(ctx, "accounts:signInWithPassword", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshIDToken mints a fresh id token from a refresh token.
func (c *IdentityClient) RefreshIDToken(ctx context.Context, refreshToken string) (*SignInResult, error) {
	body := map[string]any{"refresh_token": refreshToken, "grant_type": "refresh_token"}
	var resp refreshResponse
	if err := c.post(ctx, "token", body, &resp); err != nil {
		return nil, err
	}
	if resp.IDToken == "" {
		return nil, wepinerr.New(wepinerr.ParsingError, "refresh response without id token")
	}
	return &SignInResult{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		LocalID:      resp.UserID,
	}, nil
}

func (c *IdentityClient) post(ctx context.Context, endpoint string, in, out any) error {
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key == "" {
		return wepinerr.New(wepinerr.NotInitialized, "identity provider api key is not set")
	}

	b, err := json.Marshal(in)
	if err != nil {
		return wepinerr.Newf(wepinerr.InvalidParameter, "encode request: %v", err)
	}
	u := c.baseURL + endpoint + "?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return wepinerr.Newf(wepinerr.InvalidParameter, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return wepinerr.Wrap(wepinerr.NetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wepinerr.Wrap(wepinerr.NetworkError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
			return wepinerr.New(wepinerr.NetworkError, er.Error.Message)
		}
		return wepinerr.New(wepinerr.NetworkError, fmt.Sprintf("statusCode: %d", resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return wepinerr.Newf(wepinerr.ParsingError, "%s: %v", endpoint, err)
	}
	return nil
}
