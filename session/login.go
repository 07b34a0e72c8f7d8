package session

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// TokenType names the kind of token an OAuth provider returned.
type TokenType string

const (
	TokenTypeID     TokenType = "id_token"
	TokenTypeAccess TokenType = "access_token"
)

// ProviderToken is the result of an OAuth authorization with a login provider.
type ProviderToken struct {
	Provider string
	Type     TokenType
	Token    string
}

// SignInWithProviderToken exchanges an OAuth provider token for an
// identity-provider session and persists it. Any earlier session is cleared
// first.
func (m *Manager) SignInWithProviderToken(ctx context.Context, tok ProviderToken) (*ProviderSession, error) {
	if tok.Token == "" {
		return nil, wepinerr.New(wepinerr.InvalidParameter, "provider token is empty")
	}
	if err := m.ClearSession(); err != nil {
		return nil, err
	}

	var (
		customToken string
		failure     string
	)
	switch tok.Type {
	case TokenTypeID:
		res, err := m.backend.LoginOAuthIDToken(ctx, tok.Token)
		if err != nil {
			return nil, classifyOAuthError(err)
		}
		customToken, failure = res.Token, res.Error
	case TokenTypeAccess:
		res, err := m.backend.LoginOAuthAccessToken(ctx, tok.Provider, tok.Token)
		if err != nil {
			return nil, classifyOAuthError(err)
		}
		customToken, failure = res.Token, res.Error
	default:
		return nil, wepinerr.Newf(wepinerr.InvalidParameter, "unknown token type %q", tok.Type)
	}
	if customToken == "" {
		if isSignupRequired(failure) {
			return nil, wepinerr.New(wepinerr.RequiredSignupEmail, failure)
		}
		return nil, wepinerr.New(wepinerr.InvalidToken, failure)
	}

	res, err := m.identity.SignInWithCustomToken(ctx, customToken)
	if err != nil {
		return nil, err
	}
	if res.IDToken == "" || res.RefreshToken == "" {
		return nil, wepinerr.New(wepinerr.LoginFailed, "identity provider returned an incomplete token pair")
	}

	p := ProviderSession{IDToken: res.IDToken, RefreshToken: res.RefreshToken, Provider: ProviderExternalToken}
	if err := m.StoreProviderSession(p); err != nil {
		return nil, err
	}
	return &p, nil
}

func classifyOAuthError(err error) error {
	if isSignupRequired(err.Error()) {
		return &wepinerr.Error{Kind: wepinerr.RequiredSignupEmail, Err: err}
	}
	return err
}

// isSignupRequired matches the backend's "email required for sign-up" replies.
func isSignupRequired(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "required/signup_email") || strings.Contains(msg, "requiredsignupemail")
}

// StoreProviderSession persists an identity-provider session.
func (m *Manager) StoreProviderSession(p ProviderSession) error {
	store, err := m.requireStore()
	if err != nil {
		return err
	}
	if !p.Complete() {
		return wepinerr.New(wepinerr.InvalidParameter, "idToken and refreshToken are required")
	}
	return store.Set(storage.KeyProviderSession, p)
}

// LoginWithIDToken logs the identity-provider session into the backend and
// persists the full session record, replacing whatever was stored.
func (m *Manager) LoginWithIDToken(ctx context.Context, p ProviderSession) (*SessionRecord, error) {
	store, err := m.requireStore()
	if err != nil {
		return nil, err
	}
	if !p.Complete() {
		return nil, wepinerr.New(wepinerr.InvalidParameter, "idToken and refreshToken are required")
	}

	resp, err := m.backend.Login(ctx, p.IDToken)
	if err != nil {
		return nil, err
	}
	if resp.UserInfo.UserID == "" {
		return nil, wepinerr.New(wepinerr.LoginFailed, "backend login returned no user")
	}

	if err := store.DeleteAll(); err != nil {
		return nil, wepinerr.Wrap(wepinerr.Unknown, err)
	}

	pin := false
	if resp.LoginStatus == statusRegisterRequired && resp.PinRequired != nil {
		pin = *resp.PinRequired
	}
	info := UserInfo{
		Status: "success",
		UserInfo: UserDetails{
			UserID:   resp.UserInfo.UserID,
			Email:    resp.UserInfo.Email,
			Provider: p.Provider,
			Use2FA:   network.Flag(resp.UserInfo.TwoFactorEnabled()),
		},
	}

	values := map[string]any{
		storage.KeyProviderSession: p,
		storage.KeyConnectUser:     ConnectUser{AccessToken: resp.Token.Access, RefreshToken: resp.Token.Refresh},
		storage.KeyUserID:          resp.UserInfo.UserID,
		storage.KeyUserStatus:      UserStatus{LoginStatus: resp.LoginStatus, PinRequired: &pin},
	}
	if resp.LoginStatus != statusPinRequired && resp.WalletID != "" {
		info.WalletID = resp.WalletID
		values[storage.KeyWalletID] = resp.WalletID
	}
	values[storage.KeyUserInfo] = info

	if err := store.SetAll(values); err != nil {
		return nil, wepinerr.Wrap(wepinerr.Unknown, err)
	}

	m.setState(lifecycleFor(resp.LoginStatus))
	log.Info().
		Str("user_id", resp.UserInfo.UserID).
		Str("login_status", resp.LoginStatus).
		Msg("Logged in with id token")

	rec, ok := readRecord(store)
	if !ok {
		return nil, wepinerr.New(wepinerr.LoginFailed, "session record incomplete after login")
	}
	return rec, nil
}

// Logout ends the backend session and wipes the store.
func (m *Manager) Logout(ctx context.Context) error {
	userID, ok := m.UserID()
	if !ok {
		if m.Store() == nil {
			return wepinerr.ErrNotInitialized
		}
		return wepinerr.New(wepinerr.LoginFailed, "no user is logged in")
	}
	if err := m.backend.Logout(ctx, userID); err != nil {
		return err
	}
	if err := m.ClearSession(); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Msg("Logged out")
	return nil
}
