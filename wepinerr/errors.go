// Package wepinerr defines the error taxonomy returned by every public SDK operation.
package wepinerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an SDK failure.
type Kind int

const (
	Unknown Kind = iota
	NotInitialized
	AlreadyInitialized
	NoConnectivity
	InvalidSession
	InvalidParameter
	LoginFailed
	UserCancelled
	AccountNotFound
	OperationFailed
	NetworkError
	ParsingError
	IncorrectLifecycle
	InvalidAppKey
	InvalidLoginProvider
	InvalidToken
	RequiredSignupEmail
	UserNotFound
)

// Op names the wallet operation an OperationFailed error belongs to.
type Op string

const (
	OpSend     Op = "send"
	OpReceive  Op = "receive"
	OpRegister Op = "register"
)

var kindInfo = map[Kind]struct {
	code    int
	message string
}{
	InvalidAppKey:        {1001, "invalid app key"},
	OperationFailed:      {1002, "operation failed"},
	ParsingError:         {1003, "failed to parse response"},
	NetworkError:         {1004, "network error"},
	NotInitialized:       {1006, "wepin sdk is not initialized"},
	AlreadyInitialized:   {1007, "wepin sdk is already initialized"},
	InvalidSession:       {1009, "invalid login session"},
	UserNotFound:         {1010, "user not found"},
	AccountNotFound:      {1011, "account not found"},
	LoginFailed:          {1012, "login failed"},
	IncorrectLifecycle:   {1013, "incorrect lifecycle state"},
	InvalidParameter:     {1014, "invalid parameter"},
	InvalidLoginProvider: {1015, "invalid login provider"},
	InvalidToken:         {1016, "token does not exist"},
	RequiredSignupEmail:  {1017, "required signup email"},
	UserCancelled:        {1028, "user cancelled"},
	NoConnectivity:       {1033, "not connected to internet"},
	Unknown:              {1099, "unknown error"},
}

var opCodes = map[Op]int{
	OpSend:     1025,
	OpReceive:  1026,
	OpRegister: 1027,
}

// Code returns the stable numeric code shared with the widget and other SDKs.
func (k Kind) Code() int {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return kindInfo[Unknown].code
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.message
	}
	return kindInfo[Unknown].message
}

// Error is the single error type surfaced by the SDK.
type Error struct {
	Kind   Kind
	Op     Op
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == OperationFailed && e.Op != "" {
		msg = fmt.Sprintf("%s failed", e.Op)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Op when the target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// Code returns the numeric code for e.
func (e *Error) Code() int {
	if e.Kind == OperationFailed {
		if code, ok := opCodes[e.Op]; ok {
			return code
		}
	}
	return e.Kind.Code()
}

// Sentinels for errors.Is.
var (
	ErrNotInitialized     = &Error{Kind: NotInitialized}
	ErrAlreadyInitialized = &Error{Kind: AlreadyInitialized}
	ErrNoConnectivity     = &Error{Kind: NoConnectivity}
	ErrInvalidSession     = &Error{Kind: InvalidSession}
	ErrInvalidParameter   = &Error{Kind: InvalidParameter}
	ErrLoginFailed        = &Error{Kind: LoginFailed}
	ErrUserCancelled      = &Error{Kind: UserCancelled}
	ErrAccountNotFound    = &Error{Kind: AccountNotFound}
	ErrOperationFailed    = &Error{Kind: OperationFailed}
	ErrNetwork            = &Error{Kind: NetworkError}
	ErrParsing            = &Error{Kind: ParsingError}
	ErrIncorrectLifecycle = &Error{Kind: IncorrectLifecycle}
	ErrInvalidAppKey      = &Error{Kind: InvalidAppKey}
	ErrRequiredSignup     = &Error{Kind: RequiredSignupEmail}
	ErrUnknown            = &Error{Kind: Unknown}
)

// New returns an error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. An existing *Error is returned unchanged.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return &Error{Kind: kind, Err: err}
}

// Failed returns an OperationFailed error for op.
func Failed(op Op, detail string) *Error {
	return &Error{Kind: OperationFailed, Op: op, Detail: detail}
}

// From converts any error into an *Error, classifying foreign errors as Unknown.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return &Error{Kind: Unknown, Err: err}
}

// KindOf returns the kind of err, or Unknown.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return Unknown
}

// FromCode maps a numeric code reported by the widget back to an error.
func FromCode(code int, detail string) *Error {
	for op, c := range opCodes {
		if c == code {
			return Failed(op, detail)
		}
	}
	for kind, info := range kindInfo {
		if info.code == code {
			return &Error{Kind: kind, Detail: detail}
		}
	}
	return &Error{Kind: Unknown, Detail: detail}
}

// widgetPhrases is matched in order against widget error strings.
//
// The widget reports failures as English prose, so this table breaks if the
// widget rewords or localizes a message. FromCode is preferred whenever the
// payload carries a numeric code.
var widgetPhrases = []struct {
	phrase string
	kind   Kind
}{
	{"network error", NetworkError},
	{"User Cancel", UserCancelled},
	{"Invalid App Key", InvalidAppKey},
	{"Invalid Parameter", InvalidParameter},
	{"Invalid Login Session", InvalidSession},
	{"Not Initialized", NotInitialized},
	{"Already Initialized", AlreadyInitialized},
	{"Failed Login", LoginFailed},
}

// FromWidgetMessage classifies an error string posted by the widget.
func FromWidgetMessage(msg string) *Error {
	for _, p := range widgetPhrases {
		if strings.Contains(msg, p.phrase) {
			return &Error{Kind: p.kind, Detail: msg}
		}
	}
	return &Error{Kind: Unknown, Detail: msg}
}

// WidgetMessage renders e with the phrase FromWidgetMessage recognizes, so
// text sent to the widget classifies the same way on both sides.
func (e *Error) WidgetMessage() string {
	for _, p := range widgetPhrases {
		if p.kind != e.Kind {
			continue
		}
		if e.Detail != "" {
			return p.phrase + ": " + e.Detail
		}
		return p.phrase
	}
	return e.Error()
}
