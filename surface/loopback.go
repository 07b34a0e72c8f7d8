package surface

import (
	"context"
	"sync"
)

// Loopback is an in-process surface. The widget side is played by the
// OnOpen and OnEvaluate hooks, which may post messages back with Post.
type Loopback struct {
	// OnOpen runs on its own goroutine after each successful Open.
	OnOpen func(l *Loopback, url string)
	// OnEvaluate runs synchronously for every evaluated script.
	OnEvaluate func(l *Loopback, script string)

	mu      sync.Mutex
	open    bool
	url     string
	sink    Sink
	scripts []string
	opens   int
}

// NewLoopback creates a closed loopback surface.
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Open(ctx context.Context, url string, sink Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.open = true
	l.url = url
	l.sink = sink
	l.opens++
	hook := l.OnOpen
	l.mu.Unlock()

	if hook != nil {
		go hook(l, url)
	}
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	l.sink = nil
	return nil
}

func (l *Loopback) Evaluate(script string) error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return ErrNotOpen
	}
	l.scripts = append(l.scripts, script)
	hook := l.OnEvaluate
	l.mu.Unlock()

	if hook != nil {
		hook(l, script)
	}
	return nil
}

// Post delivers a widget message to the sink installed by Open.
func (l *Loopback) Post(raw []byte) error {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink == nil {
		return ErrNotOpen
	}
	sink(raw)
	return nil
}

// IsOpen reports whether a widget is currently open.
func (l *Loopback) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// URL returns the URL passed to the most recent Open.
func (l *Loopback) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

// Opens counts calls to Open.
func (l *Loopback) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

// Scripts returns every script evaluated so far.
func (l *Loopback) Scripts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.scripts...)
}
