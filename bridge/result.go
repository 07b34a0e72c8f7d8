package bridge

import (
	"encoding/json"

	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// Status tags an Outcome.
type Status int

const (
	StatusOk Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is a widget reply decoded at the bridge boundary. Err is set
// unless Status is StatusOk.
type Outcome struct {
	Status Status
	Data   Value
	Err    *wepinerr.Error
}

// Ok wraps a successful payload.
func Ok(data Value) Outcome {
	return Outcome{Status: StatusOk, Data: data}
}

// Fail wraps err, tagging UserCancelled errors as StatusCancelled.
func Fail(err *wepinerr.Error) Outcome {
	if err == nil {
		err = wepinerr.New(wepinerr.Unknown, "")
	}
	if err.Kind == wepinerr.UserCancelled {
		return Outcome{Status: StatusCancelled, Err: err}
	}
	return Outcome{Status: StatusFailed, Err: err}
}

// Error returns nil for StatusOk and the outcome's error otherwise.
func (o Outcome) Error() error {
	if o.Status == StatusOk {
		return nil
	}
	return o.Err
}

// DecodeOutcome turns a raw response-command message into an Outcome.
//
// The widget reports failures two ways: state ERROR, or state SUCCESS with an
// "error" member in data. Both decode to Failed or Cancelled here, so no
// caller inspects payload strings for control flow.
func DecodeOutcome(raw []byte) Outcome {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Fail(wepinerr.Newf(wepinerr.ParsingError, "widget reply: %v", err))
	}
	return outcomeOf(&m)
}

func outcomeOf(m *Message) Outcome {
	switch m.Body.State {
	case StateError:
		return Fail(widgetError(m.Body.Data))
	case StateSuccess:
		if m.Body.Data.Has("error") {
			return Fail(widgetError(m.Body.Data))
		}
		return Ok(m.Body.Data)
	default:
		return Fail(wepinerr.Newf(wepinerr.ParsingError, "widget reply state %q", m.Body.State))
	}
}

// widgetError classifies an error payload. A numeric code wins over the
// message text.
func widgetError(data Value) *wepinerr.Error {
	detail, ok := data.AsString()
	if !ok {
		detail = data.Str("error")
		if detail == "" {
			if inner := data.Get("error"); inner.Kind() == KindObject {
				detail = inner.Str("message")
				data = inner
			}
		}
		if detail == "" {
			detail = data.Str("message")
		}
	}
	if code, ok := data.Get("code").AsInt(); ok && code != 0 {
		return wepinerr.FromCode(int(code), detail)
	}
	return wepinerr.FromWidgetMessage(detail)
}
