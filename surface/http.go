package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	maxMessageSize = 1 << 20
	maxPollWait    = 30 * time.Second
)

// widgetStatus is returned by GET /widget.
type widgetStatus struct {
	Open bool   `json:"open"`
	URL  string `json:"url,omitempty"`
}

// HTTPSurface is a local relay for a browser-hosted widget. The page polls
// GET /widget to learn when to show the widget, POSTs widget messages to
// /widget/messages and long-polls /widget/scripts for scripts to evaluate.
type HTTPSurface struct {
	router *mux.Router

	mu      sync.Mutex
	open    bool
	url     string
	sink    Sink
	scripts []string
	notify  chan struct{}
}

// NewHTTPSurface creates a closed relay.
func NewHTTPSurface() *HTTPSurface {
	s := &HTTPSurface{notify: make(chan struct{})}
	s.router = s.newRouter()
	return s
}

func (s *HTTPSurface) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/widget", s.statusHandler).Methods("GET")
	r.HandleFunc("/widget/messages", s.messageHandler).Methods("POST")
	r.HandleFunc("/widget/scripts", s.scriptsHandler).Methods("GET")
	return r
}

// Handler returns the relay's HTTP handler.
func (s *HTTPSurface) Handler() http.Handler { return s.router }

// ListenAndServe serves the relay on addr until ctx is done.
func (s *HTTPSurface) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", addr).Msg("Widget relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *HTTPSurface) Open(ctx context.Context, url string, sink Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.url = url
	s.sink = sink
	s.scripts = nil
	s.wakeLocked()
	return nil
}

func (s *HTTPSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.sink = nil
	s.scripts = nil
	s.wakeLocked()
	return nil
}

func (s *HTTPSurface) Evaluate(script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.scripts = append(s.scripts, script)
	s.wakeLocked()
	return nil
}

// wakeLocked releases every poller waiting on the current notify channel.
func (s *HTTPSurface) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *HTTPSurface) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st := widgetStatus{Open: s.open, URL: s.url}
	s.mu.Unlock()
	if !st.Open {
		st.URL = ""
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *HTTPSurface) messageHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
	if err != nil {
		http.Error(w, "failed to read message", http.StatusBadRequest)
		return
	}
	if len(body) > maxMessageSize {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		http.Error(w, ErrNotOpen.Error(), http.StatusConflict)
		return
	}

	sink(body)
	w.WriteHeader(http.StatusAccepted)
}

// scriptsHandler drains queued scripts. With ?wait=N it blocks up to N
// seconds for the first script.
func (s *HTTPSurface) scriptsHandler(w http.ResponseWriter, r *http.Request) {
	wait := time.Duration(0)
	if v := r.URL.Query().Get("wait"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			http.Error(w, "invalid wait", http.StatusBadRequest)
			return
		}
		wait = min(time.Duration(secs)*time.Second, maxPollWait)
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		scripts := s.scripts
		s.scripts = nil
		notify := s.notify
		s.mu.Unlock()

		if len(scripts) > 0 || wait == 0 {
			if scripts == nil {
				scripts = []string{}
			}
			writeJSON(w, http.StatusOK, scripts)
			return
		}

		select {
		case <-notify:
		case <-deadline.C:
			wait = 0
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write relay response")
	}
}
