package bridge

import "sync"

// AppIdentity is reported to the widget by ready_to_widget.
type AppIdentity struct {
	AppKey  string
	AppID   string
	Domain  string
	SDKType string
	Version string
}

// LoginProvider maps a login provider name to its OAuth client id.
type LoginProvider struct {
	Provider string `json:"provider"`
	ClientID string `json:"clientId"`
}

// Attributes are the widget display settings.
type Attributes struct {
	DefaultLanguage string
	DefaultCurrency string
	LoginProviders  []string
}

func (a Attributes) value() Value {
	providers := make([]Value, len(a.LoginProviders))
	for i, p := range a.LoginProviders {
		providers[i] = String(p)
	}
	return Object(map[string]Value{
		"defaultLanguage": String(a.DefaultLanguage),
		"defaultCurrency": String(a.DefaultCurrency),
		"loginProviders":  Array(providers...),
	})
}

// WidgetState is the host-controlled state the widget reads through the bridge.
type WidgetState struct {
	mu        sync.RWMutex
	attrs     Attributes
	email     string
	providers []LoginProvider
}

// NewWidgetState creates state with the given attributes.
func NewWidgetState(attrs Attributes) *WidgetState {
	return &WidgetState{attrs: attrs}
}

func (s *WidgetState) Attributes() Attributes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.attrs
	a.LoginProviders = append([]string(nil), s.attrs.LoginProviders...)
	return a
}

func (s *WidgetState) SetAttributes(a Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = a
}

// SetLanguage changes the display language and, when non-empty, the currency.
func (s *WidgetState) SetLanguage(language, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs.DefaultLanguage = language
	if currency != "" {
		s.attrs.DefaultCurrency = currency
	}
}

// Email returns the address pre-filled in the widget's signup form.
func (s *WidgetState) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

func (s *WidgetState) SetEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
}

// SetLoginProviders installs the providers offered by the login screen.
func (s *WidgetState) SetLoginProviders(providers []LoginProvider) {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Provider
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append([]LoginProvider(nil), providers...)
	s.attrs.LoginProviders = names
}

// ClientID returns the OAuth client id configured for provider.
func (s *WidgetState) ClientID(provider string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.providers {
		if p.Provider == provider {
			return p.ClientID, true
		}
	}
	return "", false
}
