package network

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Token is the backend access/refresh pair.
type Token struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginRequest exchanges an identity-provider id token for a backend session.
type LoginRequest struct {
	IDToken string `json:"idToken"`
}

// LoginResponse is returned by user/login.
type LoginResponse struct {
	LoginStatus string  `json:"loginStatus"`
	PinRequired *bool   `json:"pinRequired,omitempty"`
	WalletID    string  `json:"walletId,omitempty"`
	Token       Token   `json:"token"`
	UserInfo    AppUser `json:"userInfo"`
}

// AppUser is the backend's user profile.
type AppUser struct {
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Locale           string `json:"locale"`
	Currency         string `json:"currency"`
	LastAccessDevice string `json:"lastAccessDevice"`
	LastSessionIP    string `json:"lastSessionIP"`
	UserJoinStage    int    `json:"userJoinStage"`
	ProfileImage     string `json:"profileImage"`
	UserState        int    `json:"userState"`
	Use2FA           int    `json:"use2FA"`
}

// TwoFactorEnabled reports whether use2FA marks an enrolled second factor.
func (u AppUser) TwoFactorEnabled() bool { return u.Use2FA >= 2 }

// Flag decodes a boolean that earlier releases persisted as 0/1.
type Flag bool

// UnmarshalJSON accepts true/false, numbers, and numeric strings.
func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "true":
		*f = true
		return nil
	case "false", "null", `""`:
		*f = false
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = false
		return nil
	}
	*f = n != 0
	return nil
}

// MarshalJSON writes a JSON bool.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

// LoginStatus is returned by user/{id}/login-status.
type LoginStatus struct {
	LoginStatus string `json:"loginStatus"`
	PinRequired *bool  `json:"pinRequired,omitempty"`
}

// Login status values.
const (
	StatusComplete         = "complete"
	StatusPinRequired      = "pinRequired"
	StatusRegisterRequired = "registerRequired"
)

type accessTokenResponse struct {
	Token string `json:"token"`
}

// RegisterRequest registers a user's wallet with the app.
type RegisterRequest struct {
	AppID       string `json:"appId"`
	UserID      string `json:"userId"`
	LoginStatus string `json:"loginStatus"`
	WalletID    string `json:"walletId"`
}

// RegisterResponse is returned by app/register.
type RegisterResponse struct {
	Success  bool   `json:"success"`
	WalletID string `json:"walletId"`
}

// TermsAccepted records the user's acceptance of legal terms.
type TermsAccepted struct {
	TermsOfService bool `json:"termsOfService"`
	PrivacyPolicy  bool `json:"privacyPolicy"`
}

type termsAcceptedBody struct {
	TermsAccepted TermsAccepted `json:"termsAccepted"`
}

// AccountListRequest selects a wallet's accounts.
type AccountListRequest struct {
	WalletID string
	UserID   string
	Locale   string
}

// AccountListResponse is returned by the account endpoint.
type AccountListResponse struct {
	WalletID   string       `json:"walletId"`
	Accounts   []AppAccount `json:"accounts"`
	AAAccounts []AppAccount `json:"aa_accounts,omitempty"`
}

// AppAccount is a wallet account or token account as the backend reports it.
type AppAccount struct {
	AccountID      string `json:"accountId"`
	Address        string `json:"address"`
	EOAAddress     string `json:"eoaAddress,omitempty"`
	AddressPath    string `json:"addressPath"`
	CoinID         *int   `json:"coinId,omitempty"`
	Contract       string `json:"contract,omitempty"`
	Symbol         string `json:"symbol"`
	Label          string `json:"label"`
	Name           string `json:"name"`
	Network        string `json:"network"`
	Balance        string `json:"balance"`
	Decimals       *int   `json:"decimals,omitempty"`
	IconURL        string `json:"iconUrl,omitempty"`
	IDs            string `json:"ids,omitempty"`
	AccountTokenID string `json:"accountTokenId,omitempty"`
	CMKID          *int   `json:"cmkId,omitempty"`
	IsAA           bool   `json:"isAA,omitempty"`
}

// BalanceResponse is returned by accountbalance/{id}/balance.
type BalanceResponse struct {
	Decimals int            `json:"decimals"`
	Symbol   string         `json:"symbol"`
	Tokens   []TokenBalance `json:"tokens"`
	Balance  string         `json:"balance"`
}

// TokenBalance is one token held by an account.
type TokenBalance struct {
	Contract string `json:"contract"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
	TokenID  int    `json:"tokenId"`
	Balance  string `json:"balance"`
}

// NFTListRequest selects a wallet's NFTs.
type NFTListRequest struct {
	WalletID string
	UserID   string
}

// NFTListResponse is returned by the nft endpoints.
type NFTListResponse struct {
	NFTs []AppNFT `json:"nfts"`
}

// AppNFT is one NFT as the backend reports it.
type AppNFT struct {
	Contract     NFTContract `json:"contract"`
	ID           string      `json:"id"`
	AccountID    string      `json:"accountId"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	TokenID      string      `json:"tokenId"`
	ExternalLink string      `json:"externalLink"`
	ImageURL     string      `json:"imageUrl"`
	ContentURL   string      `json:"contentUrl,omitempty"`
	Quantity     *int        `json:"quantity,omitempty"`
	ContentType  int         `json:"contentType"`
	State        int         `json:"state"`
}

// NFTContract describes the contract an NFT belongs to.
type NFTContract struct {
	CoinID       int    `json:"coinId"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Scheme       int    `json:"scheme"`
	Description  string `json:"description,omitempty"`
	Network      string `json:"network"`
	ExternalLink string `json:"externalLink,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
}

// OAuthLoginResponse is returned by the user/oauth/login endpoints.
type OAuthLoginResponse struct {
	Result           bool   `json:"result"`
	Token            string `json:"token,omitempty"`
	SignVerifyResult *bool  `json:"signVerifyResult,omitempty"`
	Error            string `json:"error,omitempty"`
}

// AppInfo is the raw app/info document.
type AppInfo map[string]any

// errorResponse is the backend's error body.
type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Status     int    `json:"status"`
	Message    string `json:"message"`
	Code       int    `json:"code"`
}
