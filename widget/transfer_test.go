package widget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WepinWallet/wepin-widget-sdk-go/bridge"
	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/surface"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

var ethAccount = Account{Network: "Ethereum", Address: "0xabc"}

func loggedInWithAccounts(t *testing.T) *harness {
	t.Helper()
	h := newInitialized(t)
	h.seedSession(t, network.StatusComplete, false)
	h.backend.accounts = []network.AppAccount{{AccountID: "acc-1", Network: "Ethereum", Address: "0xabc", Symbol: "ETH"}}
	return h
}

func TestSend(t *testing.T) {
	h := loggedInWithAccounts(t)

	var req sdkRequest
	h.surface.OnOpen = answerRequest(t, bridge.StateSuccess, "0xtx", func(r sdkRequest) { req = r })

	txID, err := h.w.Send(context.Background(), ethAccount, "0xdef", "1.5")
	require.NoError(t, err)
	assert.Equal(t, "0xtx", txID)

	assert.Equal(t, bridge.CmdSendTransactionWithoutProvider, req.Body.Command)
	assert.Equal(t, map[string]any{
		"account": map[string]any{"address": "0xabc", "network": "Ethereum", "contract": nil},
		"from":    "0xabc",
		"to":      "0xdef",
		"value":   "1.5",
	}, req.Body.Parameter)
	assert.False(t, h.surface.IsOpen())
	assert.Equal(t, 0, h.w.pending.Len())
}

func TestSendRejectsAmount(t *testing.T) {
	h := loggedInWithAccounts(t)

	for _, amount := range []string{"1.", ".5", "-1", "1e5", "1,000"} {
		_, err := h.w.Send(context.Background(), ethAccount, "0xdef", amount)
		assert.ErrorIs(t, err, wepinerr.ErrInvalidParameter, amount)
	}
	assert.Equal(t, 0, h.surface.Opens())
}

func TestSendRequiresLogin(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusRegisterRequired, false)

	_, err := h.w.Send(context.Background(), ethAccount, "0xdef", "1")
	assert.ErrorIs(t, err, wepinerr.ErrIncorrectLifecycle)
}

func TestSendWithoutAccounts(t *testing.T) {
	h := newInitialized(t)
	h.seedSession(t, network.StatusComplete, false)

	_, err := h.w.Send(context.Background(), ethAccount, "0xdef", "1")
	assert.ErrorIs(t, err, wepinerr.ErrAccountNotFound)
}

func TestSendOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		state string
		data  any
		want  error
	}{
		{"user cancel", bridge.StateError, "User Cancel", wepinerr.ErrUserCancelled},
		{"widget error", bridge.StateError, "network error: rpc down", wepinerr.Failed(wepinerr.OpSend, "")},
		{"error payload", bridge.StateSuccess, map[string]any{"error": "Invalid Parameter"}, wepinerr.ErrInvalidParameter},
		{"no tx id", bridge.StateSuccess, map[string]any{"ok": true}, wepinerr.Failed(wepinerr.OpSend, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := loggedInWithAccounts(t)
			h.surface.OnOpen = answerRequest(t, tt.state, tt.data, nil)

			_, err := h.w.Send(context.Background(), ethAccount, "0xdef", "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReceive(t *testing.T) {
	h := loggedInWithAccounts(t)
	h.surface.OnOpen = answerRequest(t, bridge.StateSuccess, nil, func(r sdkRequest) {
		assert.Equal(t, bridge.CmdReceiveAccount, r.Body.Command)
	})

	got, err := h.w.Receive(context.Background(), ethAccount)
	require.NoError(t, err)
	assert.Equal(t, ethAccount, got)
}

func TestReceiveClosedIsSuccess(t *testing.T) {
	h := loggedInWithAccounts(t)
	h.surface.OnOpen = func(l *surface.Loopback, url string) {
		assert.NoError(t, l.Post(widgetRequest(9, bridge.CmdCloseWepinWidget, nil)))
	}

	got, err := h.w.Receive(context.Background(), ethAccount)
	require.NoError(t, err)
	assert.Equal(t, ethAccount, got)
	assert.False(t, h.surface.IsOpen())
}

func TestReceiveFailure(t *testing.T) {
	h := loggedInWithAccounts(t)
	h.surface.OnOpen = answerRequest(t, bridge.StateError, "Invalid Login Session", nil)

	_, err := h.w.Receive(context.Background(), ethAccount)
	assert.ErrorIs(t, err, wepinerr.Failed(wepinerr.OpReceive, ""))
	assert.ErrorIs(t, err, wepinerr.ErrInvalidSession)
}

func TestRoundTripDeadlineIsFailure(t *testing.T) {
	h := loggedInWithAccounts(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := h.w.Receive(ctx, ethAccount)
	require.Error(t, err)
	assert.ErrorIs(t, err, wepinerr.Failed(wepinerr.OpReceive, ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, wepinerr.ErrUserCancelled)
	assert.False(t, h.surface.IsOpen())

	ctx, cancel = context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = h.w.Send(ctx, ethAccount, "0xdef", "1")
	assert.ErrorIs(t, err, wepinerr.Failed(wepinerr.OpSend, ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.w.pending.Len())
}

func TestCloseWidgetCancelsRoundTrip(t *testing.T) {
	h := loggedInWithAccounts(t)
	opened := make(chan struct{})
	h.surface.OnOpen = func(*surface.Loopback, string) { close(opened) }

	done := make(chan error, 1)
	go func() {
		_, err := h.w.Send(context.Background(), ethAccount, "0xdef", "1")
		done <- err
	}()

	<-opened
	require.Eventually(t, func() bool { return h.w.pending.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.w.CloseWidget())
	assert.ErrorIs(t, <-done, wepinerr.ErrUserCancelled)
	assert.False(t, h.surface.IsOpen())
}
