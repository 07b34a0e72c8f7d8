package surface

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHTTPSurfaceStatus(t *testing.T) {
	s := NewHTTPSurface()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var st widgetStatus
	getJSON(t, srv.URL+"/widget", &st)
	assert.False(t, st.Open)

	require.NoError(t, s.Open(context.Background(), "https://widget.test/", func([]byte) {}))
	getJSON(t, srv.URL+"/widget", &st)
	assert.True(t, st.Open)
	assert.Equal(t, "https://widget.test/", st.URL)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK\n", string(body))
}

func TestHTTPSurfaceMessages(t *testing.T) {
	s := NewHTTPSurface()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/widget/messages", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var mu sync.Mutex
	var got []string
	require.NoError(t, s.Open(context.Background(), "u", func(raw []byte) {
		mu.Lock()
		got = append(got, string(raw))
		mu.Unlock()
	}))

	resp, err = http.Post(srv.URL+"/widget/messages", "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	mu.Lock()
	assert.Equal(t, []string{`{"a":1}`}, got)
	mu.Unlock()
}

func TestHTTPSurfaceScriptsDrain(t *testing.T) {
	s := NewHTTPSurface()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	assert.ErrorIs(t, s.Evaluate("early"), ErrNotOpen)
	require.NoError(t, s.Open(context.Background(), "u", func([]byte) {}))
	require.NoError(t, s.Evaluate("onResponse(1);"))
	require.NoError(t, s.Evaluate("onResponse(2);"))

	var scripts []string
	getJSON(t, srv.URL+"/widget/scripts", &scripts)
	assert.Equal(t, []string{"onResponse(1);", "onResponse(2);"}, scripts)

	getJSON(t, srv.URL+"/widget/scripts", &scripts)
	assert.Empty(t, scripts)
}

func TestHTTPSurfaceLongPoll(t *testing.T) {
	s := NewHTTPSurface()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	require.NoError(t, s.Open(context.Background(), "u", func([]byte) {}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Evaluate("late")
	}()

	var scripts []string
	getJSON(t, srv.URL+"/widget/scripts?wait=5", &scripts)
	assert.Equal(t, []string{"late"}, scripts)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/widget/scripts?wait=x", nil))
}

func TestHTTPSurfaceListenAndServeStops(t *testing.T) {
	s := NewHTTPSurface()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
