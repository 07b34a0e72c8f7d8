package bridge

import (
	"sync"
	"time"
)

// Mailbox holds the one native request the widget has not consumed yet.
// Posting a new request replaces the previous one.
type Mailbox struct {
	mu      sync.Mutex
	current *Request
	lastID  int64
	now     func() time.Time
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{now: time.Now}
}

// Post stores a new request with a fresh id. Ids are millisecond timestamps,
// bumped when needed so they strictly increase.
func (m *Mailbox) Post(cmd Command, parameter Value) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.now().UnixMilli()
	if id <= m.lastID {
		id = m.lastID + 1
	}
	m.lastID = id

	m.current = &Request{ID: id, Command: cmd, Parameter: parameter}
	return m.current
}

// Current returns the stored request.
func (m *Mailbox) Current() (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Clear empties the mailbox if it still holds the request with id.
func (m *Mailbox) Clear(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.ID == id {
		m.current = nil
	}
}

// Reset empties the mailbox.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}
