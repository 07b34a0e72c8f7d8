package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WepinWallet/wepin-widget-sdk-go/session"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

type recorder struct {
	mu      sync.Mutex
	scripts []string
}

func (r *recorder) Evaluate(script string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script)
	return nil
}

// replies decodes every recorded onResponse(...) script.
func (r *recorder) replies(t *testing.T) []Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, 0, len(r.scripts))
	for _, s := range r.scripts {
		require.True(t, strings.HasPrefix(s, "onResponse("), s)
		require.True(t, strings.HasSuffix(s, ");"), s)
		body := strings.TrimSuffix(strings.TrimPrefix(s, "onResponse("), ");")
		var m Message
		require.NoError(t, json.Unmarshal([]byte(body), &m))
		out = append(out, m)
	}
	return out
}

type memLocal struct {
	mu   sync.Mutex
	data map[string]any
}

func (m *memLocal) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

func (m *memLocal) SetLocal(values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

type fakeOAuth struct {
	tok session.ProviderToken
	err error
}

func (f *fakeOAuth) Authorize(context.Context, string, string) (session.ProviderToken, error) {
	return f.tok, f.err
}

type fakeExchanger struct {
	ps  *session.ProviderSession
	err error
	got session.ProviderToken
}

func (f *fakeExchanger) SignInWithProviderToken(_ context.Context, tok session.ProviderToken) (*session.ProviderSession, error) {
	f.got = tok
	return f.ps, f.err
}

func newTestDispatcher(local *memLocal) *Dispatcher {
	state := NewWidgetState(Attributes{DefaultLanguage: "en", DefaultCurrency: "USD"})
	state.SetLoginProviders([]LoginProvider{{Provider: "google", ClientID: "g-client"}})
	state.SetEmail("user@example.com")
	return NewDispatcher(Config{
		App:   AppIdentity{AppKey: "ak_dev_x", AppID: "app", Domain: "com.example", SDKType: "ios", Version: "1.0.0"},
		State: state,
		Local: local,
	})
}

func request(cmd Command, parameter string) []byte {
	if parameter == "" {
		parameter = "null"
	}
	return []byte(`{"header":{"id":42,"request_from":"wepin_widget","request_to":"native"},` +
		`"body":{"command":"` + string(cmd) + `","parameter":` + parameter + `}}`)
}

func TestReadyToWidget(t *testing.T) {
	local := &memLocal{data: map[string]any{"migration": "true", "user_id": "U1"}}
	d := newTestDispatcher(local)
	r := &recorder{}

	d.Dispatch(context.Background(), request(CmdReadyToWidget, ""), r)

	replies := r.replies(t)
	require.Len(t, replies, 1)
	m := replies[0]
	assert.Equal(t, MessageID("42"), m.Header.ID)
	assert.Equal(t, EndpointNative, m.Header.ResponseFrom)
	assert.Equal(t, EndpointWidget, m.Header.ResponseTo)
	assert.Equal(t, StateSuccess, m.Body.State)

	data := m.Body.Data
	assert.Equal(t, "ak_dev_x", data.Str("appKey"))
	assert.Equal(t, "ios-sdk", data.Str("type"))
	platform, _ := data.Get("platform").AsInt()
	assert.Equal(t, int64(3), platform)
	assert.Equal(t, "U1", data.Get("localDate").Str("user_id"))
	assert.Equal(t, "USD", data.Get("attributes").Str("defaultCurrency"))

	providers, ok := data.Get("attributes").Get("loginProviders").AsArray()
	require.True(t, ok)
	require.Len(t, providers, 1)
}

func TestGetSDKRequest(t *testing.T) {
	d := newTestDispatcher(&memLocal{data: map[string]any{}})
	r := &recorder{}

	d.Dispatch(context.Background(), request(CmdGetSDKRequest, ""), r)
	req := d.Mailbox().Post(CmdReceiveAccount, Object(map[string]Value{"account": String("0x1")}))
	d.Dispatch(context.Background(), request(CmdGetSDKRequest, ""), r)

	replies := r.replies(t)
	require.Len(t, replies, 2)
	s, _ := replies[0].Body.Data.AsString()
	assert.Equal(t, "No request", s)

	got := replies[1].Body.Data
	id, _ := got.Get("header").Get("id").AsInt()
	assert.Equal(t, req.ID, id)
	assert.Equal(t, "native", got.Get("header").Str("request_from"))
	assert.Equal(t, "receive_account", got.Get("body").Str("command"))
}

func TestSetLocalStorageResolvesLogin(t *testing.T) {
	local := &memLocal{data: map[string]any{}}
	d := newTestDispatcher(local)
	r := &recorder{}
	w := d.Pending().Register(ChannelLogin, "", "")

	d.Dispatch(context.Background(), request(CmdSetLocalStorage,
		`{"data":{"user_info":{"status":"success"},"user_id":"U1","n":5}}`), r)

	assert.Equal(t, StatusOk, w.Await(context.Background()).Status)
	assert.Equal(t, "U1", local.data["user_id"])
	assert.Equal(t, int64(5), local.data["n"])
	assert.Equal(t, map[string]any{"status": "success"}, local.data["user_info"])

	replies := r.replies(t)
	require.Len(t, replies, 1)
	assert.True(t, replies[0].Body.Data.IsZero())
}

func TestSetLocalStorageRejectsUnsupported(t *testing.T) {
	local := &memLocal{data: map[string]any{}}
	d := newTestDispatcher(local)
	r := &recorder{}

	d.Dispatch(context.Background(), request(CmdSetLocalStorage, `{"data":{"a":"x","b":[1]}}`), r)

	assert.Empty(t, local.data)
	replies := r.replies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, StateSuccess, replies[0].Body.State)
	assert.Contains(t, replies[0].Body.Data.Str("error"), "Invalid Parameter")
}

func TestSetUserEmailAndClipboard(t *testing.T) {
	d := newTestDispatcher(&memLocal{data: map[string]any{}})
	r := &recorder{}

	d.Dispatch(context.Background(), request(CmdSetUserEmail, ""), r)
	d.Dispatch(context.Background(), request(CmdGetClipboard, ""), r)

	replies := r.replies(t)
	require.Len(t, replies, 2)
	assert.Equal(t, "user@example.com", replies[0].Body.Data.Str("email"))
	assert.True(t, replies[1].Body.Data.IsZero())
}

func TestResponseCommandResolvesPending(t *testing.T) {
	d := newTestDispatcher(&memLocal{data: map[string]any{}})
	r := &recorder{}
	req := d.Mailbox().Post(CmdSendTransactionWithoutProvider, Null())
	w := d.Pending().Register(ChannelCommand, req.MessageID(), CmdSendTransactionWithoutProvider)

	reply := `{"header":{"id":` + string(req.MessageID()) + `,"response_from":"wepin_widget","response_to":"native"},` +
		`"body":{"command":"send_transaction_without_provider","state":"SUCCESS","data":"0xtx"}}`
	d.Dispatch(context.Background(), []byte(reply), r)
	d.Dispatch(context.Background(), []byte(reply), r)

	o := w.Await(context.Background())
	require.Equal(t, StatusOk, o.Status)
	s, _ := o.Data.AsString()
	assert.Equal(t, "0xtx", s)
	assert.Empty(t, r.replies(t))
}

func TestResponseForOtherCommandLeavesWaitPending(t *testing.T) {
	d := newTestDispatcher(&memLocal{data: map[string]any{}})
	r := &recorder{}
	req := d.Mailbox().Post(CmdReceiveAccount, Null())
	w := d.Pending().Register(ChannelCommand, req.MessageID(), CmdReceiveAccount)

	stale := `{"header":{"id":"1","response_from":"wepin_widget","response_to":"native"},` +
		`"body":{"command":"send_transaction_without_provider","state":"SUCCESS","data":"0xstale"}}`
	d.Dispatch(context.Background(), []byte(stale), r)
	assert.Equal(t, 1, d.Pending().Len())

	w.Cancel()
	assert.Equal(t, 0, d.Pending().Len())
}

func TestResponseErrorStates(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status Status
		kind   wepinerr.Kind
	}{
		{"error state", `"state":"ERROR","data":"User Cancel"`, StatusCancelled, wepinerr.UserCancelled},
		{"error payload", `"state":"SUCCESS","data":{"error":"network error: down"}`, StatusFailed, wepinerr.NetworkError},
		{"error code", `"state":"ERROR","data":{"message":"whatever","code":1028}`, StatusCancelled, wepinerr.UserCancelled},
		{"unknown state", `"state":"MAYBE"`, StatusFailed, wepinerr.ParsingError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"header":{"id":"7","response_from":"wepin_widget","response_to":"native"},` +
				`"body":{"command":"register_wepin",` + tt.body + `}}`
			o := DecodeOutcome([]byte(raw))
			assert.Equal(t, tt.status, o.Status)
			require.NotNil(t, o.Err)
			assert.Equal(t, tt.kind, o.Err.Kind)
		})
	}

	o := DecodeOutcome([]byte("{garbage"))
	assert.Equal(t, wepinerr.ParsingError, o.Err.Kind)
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	d := newTestDispatcher(&memLocal{data: map[string]any{}})
	r := &recorder{}
	w := d.Pending().Register(ChannelCommand, "1", CmdRegisterWepin)

	for _, raw := range []string{
		`not json`,
		`{"header":{"id":1,"request_from":"wepin_widget","request_to":"native"},"body":{}}`,
		`{"header":{"id":1},"body":{"command":"ready_to_widget"}}`,
		`{"header":{"id":1,"request_from":"wepin_widget","request_to":"native"},"body":{"command":"register_wepin","state":"SUCCESS"}}`,
		`{"header":{"id":1,"request_from":"wepin_widget","request_to":"native"},"body":{"command":"no_such_command"}}`,
	} {
		d.Dispatch(context.Background(), []byte(raw), r)
	}

	assert.Empty(t, r.replies(t))
	assert.Equal(t, 1, d.Pending().Len())
	_ = w
}

func TestCloseWidgetCancelsWaits(t *testing.T) {
	closed := make(chan struct{})
	d := NewDispatcher(Config{Local: &memLocal{data: map[string]any{}}, OnClose: func() { close(closed) }})
	r := &recorder{}
	w := d.Pending().Register(ChannelLogin, "", "")

	d.Dispatch(context.Background(), request(CmdCloseWepinWidget, ""), r)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClose was not called")
	}
	assert.Equal(t, StatusCancelled, w.Await(context.Background()).Status)
	assert.Empty(t, r.replies(t))
}

func TestGetLoginInfo(t *testing.T) {
	d := newTestDispatcher(&memLocal{data: map[string]any{}})
	ex := &fakeExchanger{ps: &session.ProviderSession{IDToken: "ID", RefreshToken: "FR", Provider: session.ProviderExternalToken}}
	d.cfg.OAuth = &fakeOAuth{tok: session.ProviderToken{Type: session.TokenTypeID, Token: "g-token"}}
	d.cfg.Login = ex
	r := &recorder{}

	d.Dispatch(context.Background(), request(CmdGetLoginInfo, `{"provider":"google"}`), r)
	d.Wait()

	replies := r.replies(t)
	require.Len(t, replies, 1)
	data := replies[0].Body.Data
	assert.Equal(t, StateSuccess, replies[0].Body.State)
	assert.Equal(t, "external_token", data.Str("provider"))
	assert.Equal(t, "ID", data.Get("token").Str("idToken"))
	assert.Equal(t, "google", ex.got.Provider)
}

func TestClosedDispatcherSkipsBackgroundWork(t *testing.T) {
	d := newTestDispatcher(&memLocal{data: map[string]any{}})
	oauth := &fakeOAuth{tok: session.ProviderToken{Type: session.TokenTypeID, Token: "g-token"}}
	d.cfg.OAuth = oauth
	d.cfg.Login = &fakeExchanger{ps: &session.ProviderSession{IDToken: "ID", RefreshToken: "FR"}}
	r := &recorder{}

	d.Close()
	d.Dispatch(context.Background(), request(CmdGetLoginInfo, `{"provider":"google"}`), r)
	d.Wait()
	assert.Empty(t, r.replies(t))

	d.Resume()
	d.Dispatch(context.Background(), request(CmdGetLoginInfo, `{"provider":"google"}`), r)
	d.Close()
	assert.Len(t, r.replies(t), 1)
}

func TestGetLoginInfoFailures(t *testing.T) {
	tests := []struct {
		name     string
		param    string
		oauth    *fakeOAuth
		exchange *fakeExchanger
		check    func(t *testing.T, data Value)
	}{
		{
			name:  "unknown provider",
			param: `{"provider":"apple"}`,
			check: func(t *testing.T, data Value) {
				assert.Contains(t, data.Str("error"), "invalid login provider")
			},
		},
		{
			name:  "user cancel",
			param: `{"provider":"google"}`,
			oauth: &fakeOAuth{err: wepinerr.New(wepinerr.UserCancelled, "closed browser")},
			check: func(t *testing.T, data Value) {
				assert.Equal(t, wepinerr.UserCancelled, wepinerr.FromWidgetMessage(data.Str("error")).Kind)
			},
		},
		{
			name:     "signup required",
			param:    `{"provider":"google"}`,
			oauth:    &fakeOAuth{tok: session.ProviderToken{Type: session.TokenTypeAccess, Token: "acc"}},
			exchange: &fakeExchanger{err: wepinerr.New(wepinerr.RequiredSignupEmail, "")},
			check: func(t *testing.T, data Value) {
				assert.Equal(t, "no_email", data.Str("result"))
				assert.Equal(t, "acc", data.Str("accessToken"))
				assert.False(t, data.Has("idToken"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(&memLocal{data: map[string]any{}})
			oauth, exchange := tt.oauth, tt.exchange
			if oauth == nil {
				oauth = &fakeOAuth{}
			}
			if exchange == nil {
				exchange = &fakeExchanger{}
			}
			d.cfg.OAuth = oauth
			d.cfg.Login = exchange
			r := &recorder{}

			d.Dispatch(context.Background(), request(CmdGetLoginInfo, tt.param), r)
			d.Wait()

			replies := r.replies(t)
			require.Len(t, replies, 1)
			assert.Equal(t, StateSuccess, replies[0].Body.State)
			tt.check(t, replies[0].Body.Data)
		})
	}
}
