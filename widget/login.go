package widget

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/bridge"
	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/session"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// LoginProvider offers an OAuth provider on the login screen.
type LoginProvider = bridge.LoginProvider

// LoginWithUI opens the widget login screen with providers offered and
// email pre-filled, and waits until the widget stores the logged-in user.
// An already logged-in user is returned without opening the widget.
func (w *Widget) LoginWithUI(ctx context.Context, providers []LoginProvider, email string) (*session.SessionRecord, error) {
	if err := w.requireReady(); err != nil {
		return nil, err
	}

	if w.Status(ctx) == session.Login {
		rec, ok := w.session.SessionRecord()
		if !ok {
			return nil, wepinerr.New(wepinerr.UserNotFound, "stored session is incomplete")
		}
		return rec, nil
	}

	w.state.SetEmail(email)
	w.state.SetLoginProviders(providers)
	w.session.MarkLoginInFlight()

	wait := w.pending.Register(bridge.ChannelLogin, "", "")
	if err := w.openSurface(ctx); err != nil {
		wait.Cancel()
		return nil, err
	}

	o := wait.Await(ctx)
	if o.Status != bridge.StatusOk {
		w.closeSurface()
		w.Status(ctx)
		if o.Status == bridge.StatusCancelled {
			return nil, o.Err
		}
		return nil, &wepinerr.Error{Kind: wepinerr.LoginFailed, Err: o.Err}
	}

	state := w.Status(ctx)
	w.closeSurface()

	rec, ok := w.session.SessionRecord()
	if !ok {
		return nil, wepinerr.New(wepinerr.LoginFailed, "widget did not store a complete session")
	}
	log.Info().
		Str("user_id", rec.UserInfo.UserID).
		Str("lifecycle", state.String()).
		Msg("Widget login completed")
	return rec, nil
}

// Register completes wallet registration for a user in LoginBeforeRegister.
// A user who only needs to register is registered directly with the backend;
// pin setup goes through the widget.
func (w *Widget) Register(ctx context.Context) (*session.SessionRecord, error) {
	if err := w.requireReady(); err != nil {
		return nil, err
	}
	if state := w.Status(ctx); state != session.LoginBeforeRegister {
		return nil, wepinerr.Newf(wepinerr.IncorrectLifecycle, "lifecycle is %s, not login_before_register", state)
	}

	rec, ok := w.session.SessionRecord()
	if !ok {
		return nil, wepinerr.New(wepinerr.IncorrectLifecycle, "no stored user")
	}
	us := rec.UserStatus

	if us.LoginStatus == network.StatusRegisterRequired && !us.NeedsPin() {
		if rec.UserInfo.UserID == "" || rec.WalletID == "" {
			return nil, wepinerr.New(wepinerr.InvalidSession, "user id or wallet id is missing")
		}
		_, err := w.backend.Register(ctx, network.RegisterRequest{
			AppID:       w.cfg.App.AppID,
			UserID:      rec.UserInfo.UserID,
			LoginStatus: us.LoginStatus,
			WalletID:    rec.WalletID,
		})
		if err != nil {
			return nil, wepinerr.From(err)
		}
		terms := network.TermsAccepted{TermsOfService: true, PrivacyPolicy: true}
		if _, err := w.backend.UpdateTermsAccepted(ctx, rec.UserInfo.UserID, terms); err != nil {
			return nil, wepinerr.From(err)
		}
		return w.registeredUser(ctx)
	}

	param := bridge.Object(map[string]bridge.Value{
		"loginStatus": bridge.String(us.LoginStatus),
		"pinRequired": bridge.Bool(us.NeedsPin()),
	})
	o := w.roundTrip(ctx, bridge.CmdRegisterWepin, param)
	if o.Status != bridge.StatusOk {
		w.Status(ctx)
		return nil, &wepinerr.Error{Kind: wepinerr.OperationFailed, Op: wepinerr.OpRegister, Err: o.Err}
	}
	return w.registeredUser(ctx)
}

func (w *Widget) registeredUser(ctx context.Context) (*session.SessionRecord, error) {
	w.Status(ctx)
	rec, ok := w.session.SessionRecord()
	if !ok {
		return nil, wepinerr.Failed(wepinerr.OpRegister, "no stored user after registration")
	}
	return rec, nil
}

// Logout ends the backend session and wipes the store.
func (w *Widget) Logout(ctx context.Context) error {
	if err := w.requireReady(); err != nil {
		return err
	}
	return w.session.Logout(ctx)
}
