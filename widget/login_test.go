package widget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WepinWallet/wepin-widget-sdk-go/bridge"
	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/session"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
	"github.com/WepinWallet/wepin-widget-sdk-go/surface"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// widgetLoginData is what the widget stores through set_local_storage
// after a successful login.
func widgetLoginData(status string) map[string]any {
	return map[string]any{
		"data": map[string]any{
			storage.KeyConnectUser: map[string]any{"accessToken": "A1", "refreshToken": "R1"},
			storage.KeyUserID:      "U1",
			storage.KeyUserStatus:  map[string]any{"loginStatus": status, "pinRequired": false},
			storage.KeyWalletID:    "W1",
			storage.KeyUserInfo: map[string]any{
				"status":   "success",
				"walletId": "W1",
				"userInfo": map[string]any{
					"userId":   "U1",
					"email":    "user@example.com",
					"provider": "google",
					"use2FA":   1,
				},
			},
		},
	}
}

func TestLoginWithUI(t *testing.T) {
	h := newInitialized(t)
	h.backend.setStatus(network.StatusComplete, false)
	h.surface.OnOpen = func(l *surface.Loopback, url string) {
		assert.NoError(t, l.Post(widgetRequest(1, bridge.CmdReadyToWidget, nil)))
		assert.NoError(t, l.Post(widgetRequest(2, bridge.CmdSetUserEmail, nil)))
		assert.NoError(t, l.Post(widgetRequest(3, bridge.CmdSetLocalStorage, widgetLoginData(network.StatusComplete))))
	}

	providers := []bridge.LoginProvider{{Provider: "google", ClientID: "cid"}}
	rec, err := h.w.LoginWithUI(context.Background(), providers, "user@example.com")
	require.NoError(t, err)

	assert.Equal(t, "U1", rec.UserInfo.UserID)
	assert.Equal(t, "W1", rec.WalletID)
	assert.True(t, bool(rec.UserInfo.Use2FA))
	assert.Equal(t, session.Login, h.w.Lifecycle())
	assert.Equal(t, "https://widget.test/", h.surface.URL())
	assert.False(t, h.surface.IsOpen())

	// The set_local_storage reply may race the surface closing.
	scripts := h.surface.Scripts()
	require.GreaterOrEqual(t, len(scripts), 2)
	ready, ok := decodeScript(scripts[0])
	require.True(t, ok)
	assert.Equal(t, "1", ready.Header.ID)
	assert.Contains(t, string(ready.Body.Data), `"localDate"`)
	email, ok := decodeScript(scripts[1])
	require.True(t, ok)
	assert.JSONEq(t, `{"email":"user@example.com"}`, string(email.Body.Data))
}

func TestLoginWithUIAlreadyLoggedIn(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusComplete, false)

	rec, err := h.w.LoginWithUI(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "U1", rec.UserInfo.UserID)
	assert.Equal(t, 0, h.surface.Opens())
}

func TestLoginWithUIClosedByWidget(t *testing.T) {
	h := newInitialized(t)
	h.surface.OnOpen = func(l *surface.Loopback, url string) {
		assert.NoError(t, l.Post(widgetRequest(1, bridge.CmdCloseWepinWidget, nil)))
	}

	_, err := h.w.LoginWithUI(context.Background(), nil, "")
	assert.ErrorIs(t, err, wepinerr.ErrUserCancelled)
	assert.False(t, h.surface.IsOpen())
	assert.Equal(t, session.Initialized, h.w.Lifecycle())
}

func TestLoginWithUIContextDeadline(t *testing.T) {
	h := newInitialized(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.w.LoginWithUI(ctx, nil, "")
	assert.ErrorIs(t, err, wepinerr.ErrLoginFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, wepinerr.ErrUserCancelled)
	assert.False(t, h.surface.IsOpen())
	assert.Equal(t, 0, h.w.pending.Len())
}

func TestRegisterDirect(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusRegisterRequired, false)

	rec, err := h.w.Register(context.Background())
	require.NoError(t, err)

	require.Len(t, h.backend.registered, 1)
	assert.Equal(t, network.RegisterRequest{
		AppID:       "app",
		UserID:      "U1",
		LoginStatus: network.StatusRegisterRequired,
		WalletID:    "W1",
	}, h.backend.registered[0])
	assert.Equal(t, []string{"U1"}, h.backend.terms)
	assert.Equal(t, network.StatusComplete, rec.UserStatus.LoginStatus)
	assert.Equal(t, session.Login, h.w.Lifecycle())
	assert.Equal(t, 0, h.surface.Opens())
}

func TestRegisterThroughWidget(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusPinRequired, true)

	var param map[string]any
	h.surface.OnOpen = answerRequest(t, bridge.StateSuccess, nil, func(req sdkRequest) {
		param = req.Body.Parameter
		h.backend.setStatus(network.StatusComplete, false)
	})

	rec, err := h.w.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"loginStatus": network.StatusPinRequired, "pinRequired": true}, param)
	assert.Equal(t, network.StatusComplete, rec.UserStatus.LoginStatus)
	assert.Empty(t, h.backend.registered)
	_, pending := h.w.mailbox.Current()
	assert.False(t, pending)
}

func TestRegisterWidgetFailure(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusPinRequired, true)
	h.surface.OnOpen = answerRequest(t, bridge.StateError, "network error", nil)

	_, err := h.w.Register(context.Background())
	assert.ErrorIs(t, err, wepinerr.Failed(wepinerr.OpRegister, ""))
	assert.ErrorIs(t, err, wepinerr.ErrNetwork)
}

func TestRegisterRequiresLoginBeforeRegister(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusComplete, false)

	_, err := h.w.Register(context.Background())
	assert.ErrorIs(t, err, wepinerr.ErrIncorrectLifecycle)
}

func TestLogout(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusComplete, false)

	require.NoError(t, h.w.Logout(context.Background()))
	assert.Equal(t, []string{"U1"}, h.backend.loggedOut)
	assert.Equal(t, session.Initialized, h.w.Lifecycle())
	_, ok := h.w.Session().SessionRecord()
	assert.False(t, ok)
}
