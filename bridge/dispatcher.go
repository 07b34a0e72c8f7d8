// Package bridge implements the JSON message protocol between the SDK and
// the widget web surface: wire messages, the command table, the dispatcher,
// the pending-reply table and the native request mailbox.
package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/session"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// platformTag identifies this SDK family to the widget.
const platformTag = 3

const noRequest = "No request"

// ReplyChannel evaluates a script in the widget surface.
type ReplyChannel interface {
	Evaluate(script string) error
}

// LocalState is the store view the widget reads and writes.
type LocalState interface {
	Snapshot() map[string]any
	SetLocal(values map[string]any) error
}

// OAuthFlow runs a provider's authorization-code flow.
type OAuthFlow interface {
	Authorize(ctx context.Context, provider, clientID string) (session.ProviderToken, error)
}

// LoginExchanger turns a provider token into an identity-provider session.
type LoginExchanger interface {
	SignInWithProviderToken(ctx context.Context, tok session.ProviderToken) (*session.ProviderSession, error)
}

// Config wires a Dispatcher.
type Config struct {
	App     AppIdentity
	State   *WidgetState
	Local   LocalState
	Pending *PendingTable
	Mailbox *Mailbox

	OAuth OAuthFlow
	Login LoginExchanger

	// OnClose tears down the surface when the widget asks to close.
	OnClose func()
}

// Dispatcher answers widget messages. It never returns errors to the
// surface: malformed messages are dropped and failures are reported to the
// widget as SUCCESS replies carrying an error payload.
type Dispatcher struct {
	cfg Config
	wg  sync.WaitGroup

	// mu guards closed and orders wg.Add against Close.
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.State == nil {
		cfg.State = NewWidgetState(Attributes{})
	}
	if cfg.Pending == nil {
		cfg.Pending = NewPendingTable(0)
	}
	if cfg.Mailbox == nil {
		cfg.Mailbox = NewMailbox()
	}
	return &Dispatcher{cfg: cfg}
}

// Dispatch handles one raw widget message. ctx bounds background work the
// message starts, such as the get_login_info OAuth flow.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, reply ReplyChannel) {
	msg, err := ParseMessage(raw)
	if err != nil {
		log.Warn().Err(err).Int("size", len(raw)).Msg("Dropping widget message")
		return
	}

	cmd := msg.Body.Command
	kind, ok := cmd.Kind()
	if !ok {
		log.Warn().Str("command", string(cmd)).Msg("Dropping unknown widget command")
		return
	}

	log.Debug().
		Str("command", string(cmd)).
		Str("id", string(msg.Header.ID)).
		Str("kind", kind.String()).
		Msg("Widget message")

	switch kind {
	case CommandResponse:
		d.cfg.Pending.Resolve(ChannelCommand, msg.Header.ID, cmd, outcomeOf(msg))
	case CommandNoReply:
		d.cfg.Pending.CancelAll()
		if d.cfg.OnClose != nil {
			d.cfg.OnClose()
		}
	case CommandAsync:
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			log.Debug().Str("command", string(cmd)).Msg("Dispatcher closed, ignoring widget message")
			return
		}
		d.wg.Add(1)
		d.mu.Unlock()
		go func() {
			defer d.wg.Done()
			d.send(reply, NewReply(msg, d.loginInfo(ctx, msg)))
		}()
	case CommandInline:
		d.send(reply, NewReply(msg, d.inline(msg)))
	}
}

// Wait blocks until background replies have been sent.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting background work and waits for running work to end.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Resume accepts background work again after Close.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
}

// State returns the widget state the dispatcher reports.
func (d *Dispatcher) State() *WidgetState { return d.cfg.State }

// Pending returns the pending-reply table.
func (d *Dispatcher) Pending() *PendingTable { return d.cfg.Pending }

// Mailbox returns the native request mailbox.
func (d *Dispatcher) Mailbox() *Mailbox { return d.cfg.Mailbox }

func (d *Dispatcher) send(reply ReplyChannel, m *Message) {
	script, err := m.Script()
	if err != nil {
		log.Error().Err(err).Str("command", string(m.Body.Command)).Msg("Failed to encode reply")
		return
	}
	if err := reply.Evaluate(script); err != nil {
		log.Warn().Err(err).Str("command", string(m.Body.Command)).Msg("Failed to deliver reply")
	}
}

func (d *Dispatcher) inline(msg *Message) Value {
	switch msg.Body.Command {
	case CmdReadyToWidget:
		return d.readyToWidget()
	case CmdGetSDKRequest:
		if req, ok := d.cfg.Mailbox.Current(); ok {
			return req.Value()
		}
		return String(noRequest)
	case CmdSetLocalStorage:
		return d.setLocalStorage(msg.Body.Parameter)
	case CmdSetUserEmail:
		return Object(map[string]Value{"email": String(d.cfg.State.Email())})
	case CmdGetClipboard:
		return Null()
	}
	return Null()
}

func (d *Dispatcher) readyToWidget() Value {
	local := map[string]any{}
	if d.cfg.Local != nil {
		local = d.cfg.Local.Snapshot()
	}
	localValue, err := FromAny(local)
	if err != nil {
		log.Warn().Err(err).Msg("Store snapshot is not JSON-encodable")
		localValue = Object(nil)
	}

	app := d.cfg.App
	return Object(map[string]Value{
		"appKey":   String(app.AppKey),
		"appId":    String(app.AppID),
		"domain":   String(app.Domain),
		"platform": Int(platformTag),
		"type":     String(app.SDKType + "-sdk"),
		"version":  String(app.Version),
		// The widget reads this key with this spelling.
		"localDate":  localValue,
		"attributes": d.cfg.State.Attributes().value(),
	})
}

// setLocalStorage writes parameter.data into the store. Objects are stored
// as JSON documents, strings and integers as themselves. Any other value
// rejects the whole batch.
func (d *Dispatcher) setLocalStorage(parameter Value) Value {
	data, ok := parameter.Get("data").AsObject()
	if !ok {
		return errorPayload(wepinerr.New(wepinerr.InvalidParameter, "set_local_storage without data object"))
	}

	values := make(map[string]any, len(data))
	for key, v := range data {
		switch v.Kind() {
		case KindObject, KindString:
			values[key] = v.ToAny()
		case KindNumber:
			n, ok := v.AsInt()
			if !ok {
				return errorPayload(wepinerr.Newf(wepinerr.InvalidParameter, "unsupported value for %s", key))
			}
			values[key] = n
		default:
			return errorPayload(wepinerr.Newf(wepinerr.InvalidParameter, "unsupported value for %s", key))
		}
	}

	if d.cfg.Local == nil {
		return errorPayload(wepinerr.ErrNotInitialized)
	}
	if err := d.cfg.Local.SetLocal(values); err != nil {
		log.Warn().Err(err).Int("keys", len(values)).Msg("Failed to store widget data")
		return errorPayload(wepinerr.From(err))
	}

	if _, ok := values[storage.KeyUserInfo]; ok {
		d.cfg.Pending.Resolve(ChannelLogin, "", CmdSetLocalStorage, Ok(Bool(true)))
	}
	return Null()
}

// loginInfo runs the provider login for get_login_info. Failures are
// reported with state SUCCESS so the widget can tell a cancelled login from
// other errors.
func (d *Dispatcher) loginInfo(ctx context.Context, msg *Message) Value {
	provider := msg.Body.Parameter.Str("provider")
	if provider == "" {
		return errorPayload(wepinerr.New(wepinerr.InvalidLoginProvider, "missing provider"))
	}
	clientID, ok := d.cfg.State.ClientID(provider)
	if !ok {
		return errorPayload(wepinerr.Newf(wepinerr.InvalidLoginProvider, "no client id for %s", provider))
	}
	if d.cfg.OAuth == nil || d.cfg.Login == nil {
		return errorPayload(wepinerr.New(wepinerr.LoginFailed, "oauth login is not configured"))
	}

	tok, err := d.cfg.OAuth.Authorize(ctx, provider, clientID)
	if err != nil {
		log.Info().Err(err).Str("provider", provider).Msg("Provider authorization did not complete")
		return errorPayload(wepinerr.From(err))
	}
	if tok.Provider == "" {
		tok.Provider = provider
	}

	ps, err := d.cfg.Login.SignInWithProviderToken(ctx, tok)
	if err != nil {
		if errors.Is(err, wepinerr.ErrRequiredSignup) {
			body := map[string]Value{"result": String("no_email")}
			if tok.Type == session.TokenTypeAccess {
				body["accessToken"] = String(tok.Token)
			} else {
				body["idToken"] = String(tok.Token)
			}
			return Object(body)
		}
		log.Warn().Err(err).Str("provider", provider).Msg("Provider token exchange failed")
		return errorPayload(wepinerr.From(err))
	}

	return Object(map[string]Value{
		"provider": String(ps.Provider),
		"token": Object(map[string]Value{
			"idToken":      String(ps.IDToken),
			"refreshToken": String(ps.RefreshToken),
		}),
	})
}

func errorPayload(err *wepinerr.Error) Value {
	return Object(map[string]Value{"error": String(err.WidgetMessage())})
}
