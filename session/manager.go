// Package session owns the SDK lifecycle state machine and reconciles the
// persisted token pairs against the backend and the identity provider.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// Backend is the part of the SDK backend the session manager drives.
type Backend interface {
	SetAuthToken(access, refresh string)
	ClearAuthToken()
	RefreshAccessToken(ctx context.Context, userID string) (string, error)
	GetLoginStatus(ctx context.Context, userID string) (*network.LoginStatus, error)
	Login(ctx context.Context, idToken string) (*network.LoginResponse, error)
	Logout(ctx context.Context, userID string) error
	LoginOAuthIDToken(ctx context.Context, idToken string) (*network.OAuthLoginResponse, error)
	LoginOAuthAccessToken(ctx context.Context, provider, accessToken string) (*network.OAuthLoginResponse, error)
}

// IdentityProvider mints and refreshes identity-provider id tokens.
type IdentityProvider interface {
	RefreshIDToken(ctx context.Context, refreshToken string) (*network.SignInResult, error)
	SignInWithCustomToken(ctx context.Context, customToken string) (*network.SignInResult, error)
}

// StoreOpener opens the scoped secure store.
type StoreOpener func(ctx context.Context, opts storage.Options) (*storage.Store, error)

// Manager is the session and token lifecycle manager. The lifecycle state is
// its only mutable field; everything else lives in the store.
type Manager struct {
	backend  Backend
	identity IdentityProvider
	open     StoreOpener

	mu    sync.RWMutex
	state LifecycleState
	store *storage.Store
}

// NewManager creates a manager in NotInitialized.
func NewManager(backend Backend, identity IdentityProvider) *Manager {
	return &Manager{
		backend:  backend,
		identity: identity,
		open:     storage.Open,
	}
}

// Initialize opens the store for opts.AppID. The store runs legacy
// migration and the install-state wipe while opening. Calling Initialize on
// an initialized manager does nothing.
func (m *Manager) Initialize(ctx context.Context, opts storage.Options) error {
	m.mu.Lock()
	if m.state != NotInitialized {
		m.mu.Unlock()
		return nil
	}
	m.state = Initializing
	m.mu.Unlock()

	store, err := m.open(ctx, opts)
	if err != nil {
		m.setState(NotInitialized)
		return &wepinerr.Error{Kind: wepinerr.NotInitialized, Detail: "open secure store", Err: err}
	}
	m.Attach(store)
	return nil
}

// Attach initializes the manager over an already opened store.
func (m *Manager) Attach(store *storage.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
	m.state = Initialized

	log.Info().
		Str("scope", store.Scope()).
		Str("install_state", store.InstallState().String()).
		Msg("Session manager initialized")
}

// Finalize closes the store and returns to NotInitialized.
func (m *Manager) Finalize() error {
	m.mu.Lock()
	store := m.store
	m.store = nil
	m.state = NotInitialized
	m.mu.Unlock()

	m.backend.ClearAuthToken()
	if store == nil {
		return nil
	}
	return store.Close()
}

// Lifecycle returns the current state.
func (m *Manager) Lifecycle() LifecycleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Store returns the open store, or nil before Initialize.
func (m *Manager) Store() *storage.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store
}

func (m *Manager) setState(s LifecycleState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("Lifecycle changed")
	}
}

func (m *Manager) requireStore() (*storage.Store, error) {
	store := m.Store()
	if store == nil {
		return nil, wepinerr.ErrNotInitialized
	}
	return store, nil
}

// MarkLoginInFlight records that a widget login round trip has started.
func (m *Manager) MarkLoginInFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Ready() {
		m.state = BeforeLogin
	}
}

// CheckLoginStatusAndRefresh reconciles the stored backend session with the
// backend: the access token is refreshed, the login status re-read and the
// lifecycle derived from it. Any failure invalidates the session and leaves
// the lifecycle at Initialized. The only error returned is NotInitialized.
func (m *Manager) CheckLoginStatusAndRefresh(ctx context.Context) (LifecycleState, error) {
	store, err := m.requireStore()
	if err != nil {
		return NotInitialized, err
	}

	token, okToken := storage.GetAs[ConnectUser](store, storage.KeyConnectUser)
	userID, okUser := storage.GetAs[string](store, storage.KeyUserID)
	if !okToken || !token.Complete() || !okUser || userID == "" {
		m.invalidate(store)
		return Initialized, nil
	}

	m.backend.SetAuthToken(token.AccessToken, token.RefreshToken)

	access, err := m.backend.RefreshAccessToken(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Access token refresh failed, session invalidated")
		m.invalidate(store)
		return Initialized, nil
	}

	updated := ConnectUser{AccessToken: access, RefreshToken: token.RefreshToken}
	if err := store.Set(storage.KeyConnectUser, updated); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed access token")
		m.invalidate(store)
		return Initialized, nil
	}
	m.backend.SetAuthToken(access, token.RefreshToken)

	status, err := m.backend.GetLoginStatus(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Login status check failed, session invalidated")
		m.invalidate(store)
		return Initialized, nil
	}

	pin := false
	if status.PinRequired != nil {
		pin = *status.PinRequired
	}
	if err := store.Set(storage.KeyUserStatus, UserStatus{LoginStatus: status.LoginStatus, PinRequired: &pin}); err != nil {
		log.Warn().Err(err).Msg("Failed to persist user status")
	}

	next := lifecycleFor(status.LoginStatus)
	m.setState(next)

	log.Info().
		Str("user_id", userID).
		Str("login_status", status.LoginStatus).
		Str("lifecycle", next.String()).
		Msg("Session reconciled")
	return next, nil
}

// invalidate drops the backend credential and its persisted pair.
func (m *Manager) invalidate(store *storage.Store) {
	m.backend.ClearAuthToken()
	if err := store.Delete(storage.KeyConnectUser); err != nil {
		log.Debug().Err(err).Msg("Failed to delete backend token pair")
	}
	m.setState(Initialized)
}

// CheckIdentityProviderSession refreshes the stored identity-provider id
// token. The refresh token and provider are kept. A missing record or any
// failure invalidates the backend session and reports false; a failed
// refresh also removes the record.
func (m *Manager) CheckIdentityProviderSession(ctx context.Context) bool {
	store, err := m.requireStore()
	if err != nil {
		return false
	}

	p, ok := storage.GetAs[ProviderSession](store, storage.KeyProviderSession)
	if !ok || !p.Complete() {
		m.invalidate(store)
		return false
	}

	res, err := m.identity.RefreshIDToken(ctx, p.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("Identity token refresh failed")
		m.dropProviderSession(store)
		m.invalidate(store)
		return false
	}

	p.IDToken = res.IDToken
	if err := store.Set(storage.KeyProviderSession, p); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed id token")
		m.dropProviderSession(store)
		m.invalidate(store)
		return false
	}
	return true
}

func (m *Manager) dropProviderSession(store *storage.Store) {
	if err := store.Delete(storage.KeyProviderSession); err != nil {
		log.Debug().Err(err).Msg("Failed to delete identity session")
	}
}

// ClearSession drops the active credential and wipes the store.
func (m *Manager) ClearSession() error {
	m.backend.ClearAuthToken()
	store, err := m.requireStore()
	if err != nil {
		return err
	}
	if err := store.DeleteAll(); err != nil {
		return wepinerr.Wrap(wepinerr.Unknown, err)
	}
	m.setState(Initialized)
	return nil
}

// SessionRecord reconstructs the logged-in user from the store.
func (m *Manager) SessionRecord() (*SessionRecord, bool) {
	store := m.Store()
	if store == nil {
		return nil, false
	}
	return readRecord(store)
}

// UserID returns the stored user id.
func (m *Manager) UserID() (string, bool) {
	store := m.Store()
	if store == nil {
		return "", false
	}
	id, ok := storage.GetAs[string](store, storage.KeyUserID)
	return id, ok && id != ""
}

// WalletID returns the stored wallet id.
func (m *Manager) WalletID() (string, bool) {
	rec, ok := m.SessionRecord()
	if !ok || rec.WalletID == "" {
		return "", false
	}
	return rec.WalletID, true
}

// UserStatus returns the stored user status.
func (m *Manager) UserStatus() (UserStatus, bool) {
	store := m.Store()
	if store == nil {
		return UserStatus{}, false
	}
	return storage.GetAs[UserStatus](store, storage.KeyUserStatus)
}

// Snapshot returns every stored entry.
func (m *Manager) Snapshot() map[string]any {
	store := m.Store()
	if store == nil {
		return map[string]any{}
	}
	return store.GetAll()
}

// SetLocal writes entries posted by the widget.
func (m *Manager) SetLocal(values map[string]any) error {
	store, err := m.requireStore()
	if err != nil {
		return err
	}
	return store.SetAll(values)
}
