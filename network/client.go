// Package network holds the HTTP collaborators: the Wepin SDK backend and the
// identity provider used to mint and refresh id tokens.
package network

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// ClientConfig identifies the app on every backend request.
type ClientConfig struct {
	BaseURL string
	AppKey  string
	Domain  string
	SDKType string
	Version string
	Timeout time.Duration
}

// Client talks to the Wepin SDK backend. It carries the active
// access/refresh pair and attaches the access token to every request.
type Client struct {
	cfg  ClientConfig
	http *http.Client

	mu      sync.RWMutex
	access  string
	refresh string
}

// NewClient creates a backend client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetAuthToken installs the active credential.
func (c *Client) SetAuthToken(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = access
	c.refresh = refresh
}

// ClearAuthToken drops the active credential.
func (c *Client) ClearAuthToken() {
	c.SetAuthToken("", "")
}

// AuthToken returns the active credential, if any.
func (c *Client) AuthToken() (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Token{Access: c.access, Refresh: c.refresh}, c.access != "" && c.refresh != ""
}

// Login exchanges an id token for a backend session and installs it.
func (c *Client) Login(ctx context.Context, idToken string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "user/login", LoginRequest{IDToken: idToken}, &resp); err != nil {
		return nil, err
	}
	c.SetAuthToken(resp.Token.Access, resp.Token.Refresh)
	return &resp, nil
}

// Logout ends the backend session for userID and clears the credential.
func (c *Client) Logout(ctx context.Context, userID string) error {
	if err := c.do(ctx, http.MethodPost, "user/"+url.PathEscape(userID)+"/logout", nil, nil); err != nil {
		return err
	}
	c.ClearAuthToken()
	return nil
}

// RefreshAccessToken obtains a new access token with the installed refresh
// token. The refresh token itself is not rotated.
func (c *Client) RefreshAccessToken(ctx context.Context, userID string) (string, error) {
	c.mu.RLock()
	refresh := c.refresh
	c.mu.RUnlock()
	if refresh == "" {
		return "", wepinerr.New(wepinerr.InvalidToken, "no refresh token installed")
	}

	q := url.Values{}
	q.Set("userId", userID)
	q.Set("refresh_token", refresh)

	var resp accessTokenResponse
	if err := c.do(ctx, http.MethodGet, "user/access-token?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", wepinerr.New(wepinerr.ParsingError, "empty access token")
	}
	c.SetAuthToken(resp.Token, refresh)
	return resp.Token, nil
}

// GetLoginStatus returns the user's registration state.
func (c *Client) GetLoginStatus(ctx context.Context, userID string) (*LoginStatus, error) {
	var resp LoginStatus
	if err := c.do(ctx, http.MethodGet, "user/"+url.PathEscape(userID)+"/login-status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register registers the user's wallet with the app.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPost, "app/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateTermsAccepted records terms acceptance for userID.
func (c *Client) UpdateTermsAccepted(ctx context.Context, userID string, terms TermsAccepted) (*TermsAccepted, error) {
	var resp termsAcceptedBody
	endpoint := "user/" + url.PathEscape(userID) + "/terms-accepted"
	if err := c.do(ctx, http.MethodPatch, endpoint, termsAcceptedBody{TermsAccepted: terms}, &resp); err != nil {
		return nil, err
	}
	return &resp.TermsAccepted, nil
}

// GetAccountList lists the wallet's accounts.
func (c *Client) GetAccountList(ctx context.Context, req AccountListRequest) (*AccountListResponse, error) {
	q := url.Values{}
	q.Set("walletId", req.WalletID)
	q.Set("userId", req.UserID)
	q.Set("locale", req.Locale)

	var resp AccountListResponse
	if err := c.do(ctx, http.MethodGet, "account?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccountBalance returns the native and token balances of one account.
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (*BalanceResponse, error) {
	var resp BalanceResponse
	endpoint := "accountbalance/" + url.PathEscape(accountID) + "/balance"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetNFTList returns the cached NFT list.
func (c *Client) GetNFTList(ctx context.Context, req NFTListRequest) (*NFTListResponse, error) {
	return c.nftList(ctx, "nft", req)
}

// RefreshNFTList asks the backend to re-index NFTs before listing them.
func (c *Client) RefreshNFTList(ctx context.Context, req NFTListRequest) (*NFTListResponse, error) {
	return c.nftList(ctx, "nft/refresh", req)
}

func (c *Client) nftList(ctx context.Context, endpoint string, req NFTListRequest) (*NFTListResponse, error) {
	q := url.Values{}
	q.Set("walletId", req.WalletID)
	q.Set("userId", req.UserID)

	var resp NFTListResponse
	if err := c.do(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAppInfo returns the app's registration document.
func (c *Client) GetAppInfo(ctx context.Context) (AppInfo, error) {
	var resp AppInfo
	if err := c.do(ctx, http.MethodGet, "app/info?platform=3", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetIdentityAPIKey returns the identity provider API key published by the backend.
func (c *Client) GetIdentityAPIKey(ctx context.Context) (string, error) {
	body, err := c.raw(ctx, http.MethodGet, "user/firebase-config", nil)
	if err != nil {
		return "", err
	}
	encoded := strings.Trim(strings.TrimSpace(string(body)), `"`)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", wepinerr.Newf(wepinerr.ParsingError, "identity config: %v", err)
	}
	var cfg struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(decoded, &cfg); err != nil || cfg.APIKey == "" {
		return "", wepinerr.New(wepinerr.NetworkError, "api key is not exist")
	}
	return cfg.APIKey, nil
}

// LoginOAuthIDToken verifies a provider id token and returns a custom token.
func (c *Client) LoginOAuthIDToken(ctx context.Context, idToken string) (*OAuthLoginResponse, error) {
	var resp OAuthLoginResponse
	body := map[string]string{"idToken": idToken}
	if err := c.do(ctx, http.MethodPost, "user/oauth/login/id-token", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginOAuthAccessToken verifies a provider access token and returns a custom token.
func (c *Client) LoginOAuthAccessToken(ctx context.Context, provider, accessToken string) (*OAuthLoginResponse, error) {
	var resp OAuthLoginResponse
	body := map[string]string{"provider": provider, "accessToken": accessToken}
	if err := c.do(ctx, http.MethodPost, "user/oauth/login/access-token", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	body, err := c.raw(ctx, method, endpoint, in)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return wepinerr.Newf(wepinerr.ParsingError, "%s %s: %v", method, endpoint, err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, wepinerr.Newf(wepinerr.InvalidParameter, "encode request: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reqBody)
	if err != nil {
		return nil, wepinerr.Newf(wepinerr.InvalidParameter, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.cfg.AppKey)
	req.Header.Set("X-API-DOMAIN", c.cfg.Domain)
	req.Header.Set("X-SDK-TYPE", c.cfg.SDKType)
	req.Header.Set("X-SDK-VERSION", c.cfg.Version)

	c.mu.RLock()
	if c.access != "" {
		req.Header.Set("Authorization", "Bearer "+c.access)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wepinerr.Wrap(wepinerr.NetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wepinerr.Wrap(wepinerr.NetworkError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug().
			Str("method", method).
			Str("endpoint", strings.SplitN(endpoint, "?", 2)[0]).
			Int("status", resp.StatusCode).
			Msg("Backend request failed")
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// statusError carries the server's message, or the raw body when it has none.
func statusError(status int, body []byte) *wepinerr.Error {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Message != "" {
		return wepinerr.New(wepinerr.NetworkError, er.Message)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return wepinerr.New(wepinerr.NetworkError, text)
	}
	return wepinerr.New(wepinerr.NetworkError, fmt.Sprintf("statusCode: %d", status))
}
