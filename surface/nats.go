package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/config"
)

const (
	natsInboxSize    = 64
	natsFlushTimeout = 5 * time.Second
)

// NATSSubjects are the subjects one widget instance uses on the relay.
// The remote widget host subscribes to Open, Close and Evaluate and
// publishes widget messages to Message.
type NATSSubjects struct {
	Open     string
	Close    string
	Evaluate string
	Message  string
}

// SubjectsFor returns the subjects for instance under prefix.
func SubjectsFor(prefix, instance string) NATSSubjects {
	base := prefix + "." + instance
	return NATSSubjects{
		Open:     base + ".open",
		Close:    base + ".close",
		Evaluate: base + ".evaluate",
		Message:  base + ".message",
	}
}

// openRequest is published on the open subject.
type openRequest struct {
	URL      string `json:"url"`
	Instance string `json:"instance"`
}

// NATSSurface relays the widget to a remote host over NATS.
type NATSSurface struct {
	conn     *nats.Conn
	instance string
	subjects NATSSubjects

	mu    sync.Mutex
	sub   *nats.Subscription
	inbox chan *nats.Msg
	done  chan struct{}
}

// DialNATS connects to the relay described by cfg.
func DialNATS(cfg config.NATSConfig) (*NATSSurface, error) {
	opts := []nats.Option{
		nats.Name("wepin-widget-sdk"),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Millisecond),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSSurface(conn, cfg.SubjectPrefix), nil
}

// NewNATSSurface uses an existing connection. Each surface gets its own
// instance id so several SDK instances can share one relay.
func NewNATSSurface(conn *nats.Conn, prefix string) *NATSSurface {
	if prefix == "" {
		prefix = "wepin.widget"
	}
	instance := uuid.New().String()
	return &NATSSurface{
		conn:     conn,
		instance: instance,
		subjects: SubjectsFor(prefix, instance),
	}
}

// Instance returns the id that scopes this surface's subjects.
func (s *NATSSurface) Instance() string { return s.instance }

// Subjects returns the subjects this surface publishes and subscribes to.
func (s *NATSSurface) Subjects() NATSSubjects { return s.subjects }

func (s *NATSSurface) Open(ctx context.Context, url string, sink Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		s.stopLocked()
	}

	inbox := make(chan *nats.Msg, natsInboxSize)
	sub, err := s.conn.Subscribe(s.subjects.Message, func(msg *nats.Msg) {
		select {
		case inbox <- msg:
		default:
			log.Warn().Str("subject", msg.Subject).Msg("Widget inbox full, dropping message")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subjects.Message, err)
	}

	data, err := json.Marshal(openRequest{URL: url, Instance: s.instance})
	if err != nil {
		sub.Unsubscribe()
		return err
	}
	if err := s.conn.Publish(s.subjects.Open, data); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("publish open: %w", err)
	}
	if err := s.conn.FlushTimeout(natsFlushTimeout); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("flush open: %w", err)
	}

	done := make(chan struct{})
	s.sub = sub
	s.inbox = inbox
	s.done = done
	go pump(inbox, done, sink)

	log.Debug().Str("instance", s.instance).Str("subject", s.subjects.Open).Msg("Widget opened on relay")
	return nil
}

func pump(inbox <-chan *nats.Msg, done <-chan struct{}, sink Sink) {
	for {
		select {
		case msg := <-inbox:
			sink(msg.Data)
		case <-done:
			return
		}
	}
}

func (s *NATSSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	s.stopLocked()
	if err := s.conn.Publish(s.subjects.Close, nil); err != nil {
		return fmt.Errorf("publish close: %w", err)
	}
	return nil
}

func (s *NATSSurface) stopLocked() {
	if err := s.sub.Unsubscribe(); err != nil {
		log.Debug().Err(err).Msg("Unsubscribe widget messages")
	}
	close(s.done)
	s.sub = nil
	s.inbox = nil
	s.done = nil
}

func (s *NATSSurface) Evaluate(script string) error {
	s.mu.Lock()
	open := s.sub != nil
	s.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	return s.conn.Publish(s.subjects.Evaluate, []byte(script))
}

// Status returns the relay connection status.
func (s *NATSSurface) Status() string {
	switch s.conn.Status() {
	case nats.CONNECTED:
		return "connected"
	case nats.CONNECTING:
		return "connecting"
	case nats.RECONNECTING:
		return "reconnecting"
	case nats.DISCONNECTED:
		return "disconnected"
	case nats.CLOSED:
		return "closed"
	default:
		return "unknown"
	}
}

// Shutdown closes the relay connection.
func (s *NATSSurface) Shutdown() {
	s.Close()
	s.conn.Close()
}
