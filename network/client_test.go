package network

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL: srv.URL + "/v1",
		AppKey:  "ak_dev_key",
		Domain:  "com.example",
		SDKType: "ios",
		Version: "1.0.0",
	})
}

func TestClientSendsIdentityHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ak_dev_key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "com.example", r.Header.Get("X-API-DOMAIN"))
		assert.Equal(t, "ios", r.Header.Get("X-SDK-TYPE"))
		assert.Equal(t, "1.0.0", r.Header.Get("X-SDK-VERSION"))
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/user/U1/login-status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"loginStatus": "complete"})
	})
	c.SetAuthToken("A1", "R1")

	st, err := c.GetLoginStatus(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, st.LoginStatus)
	assert.Nil(t, st.PinRequired)
}

func TestRefreshAccessTokenKeepsRefreshToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/user/access-token", r.URL.Path)
		assert.Equal(t, "U1", r.URL.Query().Get("userId"))
		assert.Equal(t, "R1", r.URL.Query().Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]string{"token": "A2"})
	})
	c.SetAuthToken("A1", "R1")

	access, err := c.RefreshAccessToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "A2", access)

	tok, ok := c.AuthToken()
	require.True(t, ok)
	assert.Equal(t, Token{Access: "A2", Refresh: "R1"}, tok)
}

func TestRefreshAccessTokenWithoutCredential(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1/"})
	_, err := c.RefreshAccessToken(context.Background(), "U1")
	assert.ErrorIs(t, err, &wepinerr.Error{Kind: wepinerr.InvalidToken})
}

func TestErrorStatusCarriesServerMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"statusCode": 401, "message": "token expired", "code": 7})
	})

	_, err := c.GetLoginStatus(context.Background(), "U1")
	require.Error(t, err)
	assert.ErrorIs(t, err, wepinerr.ErrNetwork)
	assert.Contains(t, err.Error(), "token expired")
}

func TestLoginInstallsTokenAndLogoutClears(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/user/login":
			var req LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ID1", req.IDToken)
			json.NewEncoder(w).Encode(map[string]any{
				"loginStatus": "complete",
				"walletId":    "W1",
				"token":       map[string]string{"access": "A", "refresh": "R"},
				"userInfo":    map[string]any{"userId": "U1", "email": "a@b.c", "use2FA": 2},
			})
		case "/v1/user/U1/logout":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte("{}"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	resp, err := c.Login(context.Background(), "ID1")
	require.NoError(t, err)
	assert.Equal(t, "U1", resp.UserInfo.UserID)
	assert.True(t, resp.UserInfo.TwoFactorEnabled())
	assert.Equal(t, "W1", resp.WalletID)

	_, ok := c.AuthToken()
	assert.True(t, ok)

	require.NoError(t, c.Logout(context.Background(), "U1"))
	_, ok = c.AuthToken()
	assert.False(t, ok)
}

func TestUpdateTermsAcceptedUsesPatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/user/U1/terms-accepted", r.URL.Path)
		var body termsAcceptedBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.TermsAccepted.TermsOfService)
		json.NewEncoder(w).Encode(body)
	})

	got, err := c.UpdateTermsAccepted(context.Background(), "U1", TermsAccepted{TermsOfService: true, PrivacyPolicy: true})
	require.NoError(t, err)
	assert.True(t, got.PrivacyPolicy)
}

func TestGetIdentityAPIKey(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"apiKey":"fb-key"}`))
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/user/firebase-config", r.URL.Path)
		w.Write([]byte(`"` + encoded + `"`))
	})

	key, err := c.GetIdentityAPIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fb-key", key)
}

func TestMalformedBodyIsParsingError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})
	_, err := c.GetAccountBalance(context.Background(), "acc")
	assert.ErrorIs(t, err, wepinerr.ErrParsing)
}

func TestFlagDecoding(t *testing.T) {
	var v struct {
		A Flag `json:"a"`
		B Flag `json:"b"`
		C Flag `json:"c"`
		D Flag `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":true,"b":1,"c":0,"d":"1"}`), &v))
	assert.True(t, bool(v.A))
	assert.True(t, bool(v.B))
	assert.False(t, bool(v.C))
	assert.True(t, bool(v.D))
}

func TestIdentityRefreshIDToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/token", r.URL.Path)
		assert.Equal(t, "fb-key", r.URL.Query().Get("key"))
		json.NewEncoder(w).Encode(map[string]string{"id_token": "ID2", "refresh_token": "FR2"})
	}))
	defer srv.Close()

	ic := NewIdentityClient(srv.URL+"/v1/", "fb-key", 0)
	res, err := ic.RefreshIDToken(context.Background(), "FR1")
	require.NoError(t, err)
	assert.Equal(t, "ID2", res.IDToken)
}

func TestIdentityErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"INVALID_CUSTOM_TOKEN"}}`))
	}))
	defer srv.Close()

	ic := NewIdentityClient(srv.URL, "k", 0)
	_, err := ic.SignInWithCustomToken(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CUSTOM_TOKEN")
}

func TestIdentityWithoutKey(t *testing.T) {
	ic := NewIdentityClient("http://127.0.0.1:1/", "", 0)
	_, err := ic.SignInWithPassword(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, wepinerr.ErrNotInitialized)
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.True(t, NewDialProbe(ln.Addr().String()).Connected())
	assert.True(t, NewDialProbe("").Connected())
}
