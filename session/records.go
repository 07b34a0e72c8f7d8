package session

import (
	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
)

const (
	statusComplete         = network.StatusComplete
	statusPinRequired      = network.StatusPinRequired
	statusRegisterRequired = network.StatusRegisterRequired

	// ProviderExternalToken marks identity sessions minted from an OAuth provider token.
	ProviderExternalToken = "external_token"
)

// ProviderSession is the identity-provider token pair persisted under firebase:wepin.
type ProviderSession struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	Provider     string `json:"provider"`
}

// Complete reports whether both tokens are present.
func (p ProviderSession) Complete() bool {
	return p.IDToken != "" && p.RefreshToken != ""
}

// ConnectUser is the backend token pair persisted under wepin:connectUser.
type ConnectUser struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete reports whether both tokens are present.
func (c ConnectUser) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// UserStatus is persisted under user_status.
type UserStatus struct {
	LoginStatus string `json:"loginStatus"`
	PinRequired *bool  `json:"pinRequired,omitempty"`
}

// NeedsPin reports whether pin confirmation is explicitly required.
func (u UserStatus) NeedsPin() bool {
	return u.PinRequired != nil && *u.PinRequired
}

// UserDetails is the profile part of user_info.
type UserDetails struct {
	UserID   string       `json:"userId"`
	Email    string       `json:"email"`
	Provider string       `json:"provider"`
	Use2FA   network.Flag `json:"use2FA"`
}

// UserInfo is persisted under user_info, by this SDK and by the widget.
type UserInfo struct {
	Status   string      `json:"status"`
	UserInfo UserDetails `json:"userInfo"`
	WalletID string      `json:"walletId,omitempty"`
}

// SessionRecord is the logged-in user as reconstructed from the store.
type SessionRecord struct {
	Status     string        `json:"status"`
	UserInfo   UserDetails   `json:"userInfo"`
	WalletID   string        `json:"walletId,omitempty"`
	UserStatus UserStatus    `json:"userStatus"`
	Token      network.Token `json:"token"`

	// ProviderTokens is nil when no identity-provider session is stored.
	ProviderTokens *ProviderSession `json:"-"`
}

// readRecord assembles a SessionRecord. The backend token pair, user_info and
// user_status must all decode; wallet_id and firebase:wepin are optional.
func readRecord(s *storage.Store) (*SessionRecord, bool) {
	token, ok := storage.GetAs[ConnectUser](s, storage.KeyConnectUser)
	if !ok || !token.Complete() {
		return nil, false
	}
	info, ok := storage.GetAs[UserInfo](s, storage.KeyUserInfo)
	if !ok {
		return nil, false
	}
	status, ok := storage.GetAs[UserStatus](s, storage.KeyUserStatus)
	if !ok {
		return nil, false
	}

	rec := &SessionRecord{
		Status:     info.Status,
		UserInfo:   info.UserInfo,
		WalletID:   info.WalletID,
		UserStatus: status,
		Token:      network.Token{Access: token.AccessToken, Refresh: token.RefreshToken},
	}
	if rec.Status == "" {
		rec.Status = "success"
	}
	if walletID, ok := storage.GetAs[string](s, storage.KeyWalletID); ok && walletID != "" {
		rec.WalletID = walletID
	}
	if p, ok := storage.GetAs[ProviderSession](s, storage.KeyProviderSession); ok && p.Complete() {
		rec.ProviderTokens = &p
	}
	return rec, true
}
