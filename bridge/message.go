package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Endpoint names used in message headers.
const (
	EndpointNative = "native"
	EndpointWidget = "wepin_widget"
)

// Reply states.
const (
	StateSuccess = "SUCCESS"
	StateError   = "ERROR"
)

// ErrMalformedMessage is returned for messages the dispatcher drops.
var ErrMalformedMessage = errors.New("bridge: malformed message")

// MessageID is a header id. The widget sends numbers; ids are echoed back as strings.
type MessageID string

// UnmarshalJSON accepts a JSON string or number.
func (id *MessageID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("header id: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

// Header routes a message. Requests carry request_from/request_to and
// replies carry response_from/response_to.
type Header struct {
	ID           MessageID `json:"id"`
	RequestFrom  string    `json:"request_from,omitempty"`
	RequestTo    string    `json:"request_to,omitempty"`
	ResponseFrom string    `json:"response_from,omitempty"`
	ResponseTo   string    `json:"response_to,omitempty"`
}

// Body carries the command and its payload.
type Body struct {
	Command   Command `json:"command"`
	State     string  `json:"state,omitempty"`
	Parameter Value   `json:"parameter,omitzero"`
	Data      Value   `json:"data,omitzero"`
}

// Message is one bridge message in either direction.
type Message struct {
	Header Header `json:"header"`
	Body   Body   `json:"body"`
}

// ParseMessage decodes an inbound widget message and checks its routing
// fields: response commands need response_from/response_to, everything else
// request_from/request_to.
func ParseMessage(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Body.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrMalformedMessage)
	}
	if m.Header.ID == "" {
		return nil, fmt.Errorf("%w: missing header id", ErrMalformedMessage)
	}
	if m.Body.Command.IsResponse() {
		if m.Header.ResponseFrom == "" || m.Header.ResponseTo == "" {
			return nil, fmt.Errorf("%w: response %s without routing fields", ErrMalformedMessage, m.Body.Command)
		}
	} else if m.Header.RequestFrom == "" || m.Header.RequestTo == "" {
		return nil, fmt.Errorf("%w: request %s without routing fields", ErrMalformedMessage, m.Body.Command)
	}
	return &m, nil
}

// Sender returns the endpoint that sent m.
func (m *Message) Sender() string {
	if m.Header.RequestFrom != "" {
		return m.Header.RequestFrom
	}
	return m.Header.ResponseFrom
}

// NewReply builds the SUCCESS reply to req.
func NewReply(req *Message, data Value) *Message {
	return &Message{
		Header: Header{
			ID:           req.Header.ID,
			ResponseFrom: EndpointNative,
			ResponseTo:   req.Sender(),
		},
		Body: Body{
			Command: req.Body.Command,
			State:   StateSuccess,
			Data:    data,
		},
	}
}

// Script renders m as the script evaluated in the widget.
func (m *Message) Script() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return "onResponse(" + string(b) + ");", nil
}

// Request is a native-to-widget request, read by the widget with get_sdk_request.
type Request struct {
	ID        int64
	Command   Command
	Parameter Value
}

// Value renders r in its wire shape.
func (r *Request) Value() Value {
	return Object(map[string]Value{
		"header": Object(map[string]Value{
			"request_from": String(EndpointNative),
			"request_to":   String(EndpointWidget),
			"id":           Int(r.ID),
		}),
		"body": Object(map[string]Value{
			"command":   String(string(r.Command)),
			"parameter": r.Parameter,
		}),
	})
}

// MessageID returns r's id as replies carry it.
func (r *Request) MessageID() MessageID {
	return MessageID(strconv.FormatInt(r.ID, 10))
}
