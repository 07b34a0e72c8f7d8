package widget

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/bridge"
	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/session"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Account identifies a wallet account, or a token held by one when
// Contract is set.
type Account struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Contract string `json:"contract,omitempty"`
	IsAA     bool   `json:"isAA,omitempty"`
}

func (a Account) value() bridge.Value {
	contract := bridge.Null()
	if a.Contract != "" {
		contract = bridge.String(a.Contract)
	}
	return bridge.Object(map[string]bridge.Value{
		"address":  bridge.String(a.Address),
		"network":  bridge.String(a.Network),
		"contract": contract,
	})
}

// Send asks the widget to send amount from account to toAddress and returns
// the transaction id. An empty amount lets the user enter it in the widget.
func (w *Widget) Send(ctx context.Context, account Account, toAddress, amount string) (string, error) {
	u, err := w.requireLogin(ctx)
	if err != nil {
		return "", err
	}
	if err := w.requireAccounts(ctx, u); err != nil {
		return "", err
	}
	if amount != "" && !amountPattern.MatchString(amount) {
		return "", wepinerr.Newf(wepinerr.InvalidParameter, "invalid amount format: %s", amount)
	}

	param := bridge.Object(map[string]bridge.Value{
		"account": account.value(),
		"from":    bridge.String(account.Address),
		"to":      bridge.String(toAddress),
		"value":   bridge.String(amount),
	})
	o := w.roundTrip(ctx, bridge.CmdSendTransactionWithoutProvider, param)
	switch o.Status {
	case bridge.StatusCancelled:
		return "", o.Err
	case bridge.StatusFailed:
		return "", &wepinerr.Error{Kind: wepinerr.OperationFailed, Op: wepinerr.OpSend, Err: o.Err}
	}

	txID, ok := o.Data.AsString()
	if !ok || txID == "" {
		return "", wepinerr.Failed(wepinerr.OpSend, "widget returned no transaction id")
	}
	log.Info().Str("network", account.Network).Str("tx_id", txID).Msg("Transaction sent")
	return txID, nil
}

// Receive shows the receiving address of account. Closing the widget is a
// normal way to finish and is not reported as an error.
func (w *Widget) Receive(ctx context.Context, account Account) (Account, error) {
	u, err := w.requireLogin(ctx)
	if err != nil {
		return Account{}, err
	}
	if err := w.requireAccounts(ctx, u); err != nil {
		return Account{}, err
	}

	param := bridge.Object(map[string]bridge.Value{"account": account.value()})
	o := w.roundTrip(ctx, bridge.CmdReceiveAccount, param)
	if o.Status == bridge.StatusFailed {
		return Account{}, &wepinerr.Error{Kind: wepinerr.OperationFailed, Op: wepinerr.OpReceive, Err: o.Err}
	}
	return account, nil
}

// roundTrip posts a request to the mailbox, opens the widget and waits for
// the widget's correlated reply.
func (w *Widget) roundTrip(ctx context.Context, cmd bridge.Command, param bridge.Value) bridge.Outcome {
	req := w.mailbox.Post(cmd, param)
	defer w.mailbox.Clear(req.ID)

	wait := w.pending.Register(bridge.ChannelCommand, req.MessageID(), cmd)
	if err := w.openSurface(ctx); err != nil {
		wait.Cancel()
		return bridge.Fail(wepinerr.From(err))
	}

	log.Debug().Str("command", string(cmd)).Int64("id", req.ID).Msg("Waiting for widget reply")
	o := wait.Await(ctx)
	w.closeSurface()
	return o
}

// loggedInUser is the identity every wallet query is scoped to.
type loggedInUser struct {
	userID   string
	walletID string
	locale   string
}

func (w *Widget) requireLogin(ctx context.Context) (loggedInUser, error) {
	if err := w.requireReady(); err != nil {
		return loggedInUser{}, err
	}
	if state := w.Status(ctx); state != session.Login {
		return loggedInUser{}, wepinerr.Newf(wepinerr.IncorrectLifecycle, "lifecycle is %s, not login", state)
	}
	rec, ok := w.session.SessionRecord()
	if !ok || rec.UserInfo.UserID == "" || rec.WalletID == "" {
		return loggedInUser{}, wepinerr.New(wepinerr.InvalidSession, "user id or wallet id is missing")
	}
	return loggedInUser{
		userID:   rec.UserInfo.UserID,
		walletID: rec.WalletID,
		locale:   w.state.Attributes().DefaultLanguage,
	}, nil
}

// detailAccounts lists the wallet's accounts with AA accounts merged in.
func (w *Widget) detailAccounts(ctx context.Context, u loggedInUser, withEOA bool) ([]network.AppAccount, error) {
	list, err := w.backend.GetAccountList(ctx, network.AccountListRequest{
		WalletID: u.walletID,
		UserID:   u.userID,
		Locale:   u.locale,
	})
	if err != nil {
		return nil, wepinerr.From(err)
	}
	return mergeAAAccounts(list.Accounts, list.AAAccounts, withEOA), nil
}

// requireAccounts fails with AccountNotFound when the wallet has no accounts.
func (w *Widget) requireAccounts(ctx context.Context, u loggedInUser) error {
	accounts, err := w.detailAccounts(ctx, u, true)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return wepinerr.ErrAccountNotFound
	}
	return nil
}
