// Package widget is the SDK entry point. A Widget owns one session manager,
// one bridge dispatcher and one presentation surface, and sequences them
// for each wallet operation.
package widget

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/bridge"
	"github.com/WepinWallet/wepin-widget-sdk-go/config"
	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/session"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
	"github.com/WepinWallet/wepin-widget-sdk-go/surface"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// Surface renders the widget page.
type Surface interface {
	Open(ctx context.Context, url string, sink surface.Sink) error
	Close() error
	Evaluate(script string) error
}

// Backend is the Wepin backend as the widget uses it.
type Backend interface {
	session.Backend
	Register(ctx context.Context, req network.RegisterRequest) (*network.RegisterResponse, error)
	UpdateTermsAccepted(ctx context.Context, userID string, terms network.TermsAccepted) (*network.TermsAccepted, error)
	GetAccountList(ctx context.Context, req network.AccountListRequest) (*network.AccountListResponse, error)
	GetAccountBalance(ctx context.Context, accountID string) (*network.BalanceResponse, error)
	GetNFTList(ctx context.Context, req network.NFTListRequest) (*network.NFTListResponse, error)
	RefreshNFTList(ctx context.Context, req network.NFTListRequest) (*network.NFTListResponse, error)
	GetAppInfo(ctx context.Context) (network.AppInfo, error)
	GetIdentityAPIKey(ctx context.Context) (string, error)
}

// Identity is the identity provider as the widget uses it.
type Identity interface {
	session.IdentityProvider
	SetAPIKey(key string)
	HasAPIKey() bool
}

// Reachability reports whether the network is usable.
type Reachability interface {
	Connected() bool
}

// Deps are the collaborators of a Widget. Surface is required; the others
// default to the network package clients built from the configuration.
type Deps struct {
	Surface      Surface
	Backend      Backend
	Identity     Identity
	Reachability Reachability
	OAuth        bridge.OAuthFlow
	Legacy       storage.LegacyStore

	// MasterKey overrides the store key file. Used by tests and hosts that
	// keep the key in a platform keystore.
	MasterKey []byte
}

// Attributes are the display settings passed to Initialize. Empty fields
// take the configured defaults.
type Attributes struct {
	DefaultLanguage string
	DefaultCurrency string
}

// Widget is one SDK instance.
type Widget struct {
	cfg       *config.Config
	endpoints config.Endpoints

	backend  Backend
	identity Identity
	surface  Surface
	reach    Reachability
	legacy   storage.LegacyStore
	key      []byte

	session    *session.Manager
	state      *bridge.WidgetState
	pending    *bridge.PendingTable
	mailbox    *bridge.Mailbox
	dispatcher *bridge.Dispatcher

	mu          sync.Mutex
	initialized bool
	open        bool
	runCtx      context.Context
	runCancel   context.CancelFunc
}

// New validates cfg and builds a Widget. Nothing is opened until Initialize.
func New(cfg *config.Config, deps Deps) (*Widget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Surface == nil {
		return nil, wepinerr.New(wepinerr.InvalidParameter, "a presentation surface is required")
	}
	ep, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}

	w := &Widget{
		cfg:       cfg,
		endpoints: ep,
		backend:   deps.Backend,
		identity:  deps.Identity,
		surface:   deps.Surface,
		reach:     deps.Reachability,
		legacy:    deps.Legacy,
		key:       deps.MasterKey,
		state:     bridge.NewWidgetState(bridge.Attributes{}),
		pending:   bridge.NewPendingTable(cfg.ReplyTimeout()),
		mailbox:   bridge.NewMailbox(),
	}
	if w.backend == nil {
		w.backend = network.NewClient(network.ClientConfig{
			BaseURL: ep.BackendURL,
			AppKey:  cfg.App.AppKey,
			Domain:  cfg.App.Domain,
			SDKType: cfg.App.SDKType,
			Version: cfg.App.Version,
			Timeout: cfg.RequestTimeout(),
		})
	}
	if w.identity == nil {
		w.identity = network.NewIdentityClient(ep.IdentityURL, cfg.Network.IdentityAPIKey, cfg.RequestTimeout())
	}
	if w.reach == nil {
		w.reach = network.NewDialProbe(cfg.Network.ProbeAddress)
	}
	if w.legacy == nil && cfg.Storage.LegacyDir != "" {
		w.legacy = storage.NewDirLegacyStore(cfg.Storage.LegacyDir)
	}

	w.session = session.NewManager(w.backend, w.identity)
	w.dispatcher = bridge.NewDispatcher(bridge.Config{
		App: bridge.AppIdentity{
			AppKey:  cfg.App.AppKey,
			AppID:   cfg.App.AppID,
			Domain:  cfg.App.Domain,
			SDKType: cfg.App.SDKType,
			Version: cfg.App.Version,
		},
		State:   w.state,
		Local:   w.session,
		Pending: w.pending,
		Mailbox: w.mailbox,
		OAuth:   deps.OAuth,
		Login:   w.session,
		OnClose: w.surfaceClosedByWidget,
	})
	return w, nil
}

// Initialize opens the secure store, reconciles any stored session and
// validates the app key against the backend. A second call fails with
// AlreadyInitialized.
func (w *Widget) Initialize(ctx context.Context, attrs Attributes) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initialized {
		return wepinerr.ErrAlreadyInitialized
	}

	if !w.identity.HasAPIKey() {
		key, err := w.backend.GetIdentityAPIKey(ctx)
		if err != nil {
			return wepinerr.From(err)
		}
		w.identity.SetAPIKey(key)
	}

	err := w.session.Initialize(ctx, storage.Options{
		Dir:        w.cfg.Storage.Dir,
		InstallDir: w.cfg.Storage.InstallDir,
		AppID:      w.cfg.App.AppID,
		Domain:     w.cfg.App.Domain,
		SDKType:    w.cfg.App.SDKType,
		Legacy:     w.legacy,
		Passphrase: w.cfg.Storage.Passphrase,
		MasterKey:  w.key,
		CacheSize:  w.cfg.Storage.CacheSize,
	})
	if err != nil {
		return err
	}

	if attrs.DefaultLanguage == "" {
		attrs.DefaultLanguage = w.cfg.Widget.DefaultLanguage
	}
	if attrs.DefaultCurrency == "" {
		attrs.DefaultCurrency = w.cfg.Widget.DefaultCurrency
	}
	w.state.SetAttributes(bridge.Attributes{
		DefaultLanguage: attrs.DefaultLanguage,
		DefaultCurrency: attrs.DefaultCurrency,
	})
	providers := make([]bridge.LoginProvider, len(w.cfg.Widget.LoginProviders))
	for i, p := range w.cfg.Widget.LoginProviders {
		providers[i] = bridge.LoginProvider{Provider: p.Provider, ClientID: p.ClientID}
	}
	w.state.SetLoginProviders(providers)

	if _, err := w.session.CheckLoginStatusAndRefresh(ctx); err != nil {
		w.session.Finalize()
		return err
	}
	if _, err := w.backend.GetAppInfo(ctx); err != nil {
		w.session.Finalize()
		return wepinerr.From(err)
	}

	w.runCtx, w.runCancel = context.WithCancel(context.Background())
	w.dispatcher.Resume()
	w.initialized = true

	log.Info().
		Str("app_id", w.cfg.App.AppID).
		Str("environment", string(w.endpoints.Environment)).
		Str("lifecycle", w.session.Lifecycle().String()).
		Msg("Widget initialized")
	return nil
}

// IsInitialized reports whether Initialize has succeeded.
func (w *Widget) IsInitialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Status reconciles the stored session with the backend and returns the
// resulting lifecycle.
func (w *Widget) Status(ctx context.Context) session.LifecycleState {
	if !w.IsInitialized() {
		return session.NotInitialized
	}
	state, err := w.session.CheckLoginStatusAndRefresh(ctx)
	if err != nil {
		return session.NotInitialized
	}
	return state
}

// Lifecycle returns the last known lifecycle without contacting the backend.
func (w *Widget) Lifecycle() session.LifecycleState {
	return w.session.Lifecycle()
}

// ChangeLanguage updates the widget language and, when non-empty, currency.
func (w *Widget) ChangeLanguage(language, currency string) {
	w.state.SetLanguage(language, currency)
}

// CloseWidget tears down the surface. Outstanding round trips end as cancelled.
func (w *Widget) CloseWidget() error {
	if !w.IsInitialized() {
		return wepinerr.ErrNotInitialized
	}
	w.closeSurface()
	w.pending.CancelAll()
	w.mailbox.Reset()
	return nil
}

// Finalize closes the widget and the store and returns to NotInitialized.
func (w *Widget) Finalize() error {
	w.mu.Lock()
	if !w.initialized {
		w.mu.Unlock()
		return wepinerr.ErrNotInitialized
	}
	w.initialized = false
	cancel := w.runCancel
	w.mu.Unlock()

	w.closeSurface()
	w.pending.CancelAll()
	w.mailbox.Reset()
	cancel()
	w.dispatcher.Close()

	if err := w.session.Finalize(); err != nil {
		return wepinerr.Wrap(wepinerr.Unknown, err)
	}
	log.Info().Str("app_id", w.cfg.App.AppID).Msg("Widget finalized")
	return nil
}

// Session returns the session manager.
func (w *Widget) Session() *session.Manager { return w.session }

func (w *Widget) requireReady() error {
	if !w.IsInitialized() {
		return wepinerr.ErrNotInitialized
	}
	if !w.reach.Connected() {
		return wepinerr.ErrNoConnectivity
	}
	return nil
}

func (w *Widget) openSurface(ctx context.Context) error {
	w.mu.Lock()
	runCtx := w.runCtx
	w.mu.Unlock()

	sink := func(raw []byte) {
		w.dispatcher.Dispatch(runCtx, raw, w.surface)
	}
	if err := w.surface.Open(ctx, w.endpoints.WidgetURL, sink); err != nil {
		return wepinerr.Wrap(wepinerr.Unknown, err)
	}

	w.mu.Lock()
	w.open = true
	w.mu.Unlock()
	return nil
}

func (w *Widget) closeSurface() {
	w.mu.Lock()
	wasOpen := w.open
	w.open = false
	w.mu.Unlock()
	if !wasOpen {
		return
	}
	if err := w.surface.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close widget surface")
	}
}

// surfaceClosedByWidget handles close_wepin_widget.
func (w *Widget) surfaceClosedByWidget() {
	w.closeSurface()
	w.mailbox.Reset()
}
