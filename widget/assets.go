package widget

import (
	"context"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/WepinWallet/wepin-widget-sdk-go/network"
	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

const balanceFetchLimit = 4

// AccountBalance is the native balance of an account and the balances of
// the tokens registered to it.
type AccountBalance struct {
	Network string         `json:"network"`
	Address string         `json:"address"`
	Symbol  string         `json:"symbol"`
	Balance string         `json:"balance"`
	Tokens  []TokenBalance `json:"tokens"`
}

// TokenBalance is the balance of one token.
type TokenBalance struct {
	Contract string `json:"contract"`
	Symbol   string `json:"symbol"`
	Balance  string `json:"balance"`
}

// NFT is an NFT held by one of the wallet's accounts.
type NFT struct {
	Account      Account     `json:"account"`
	Contract     NFTContract `json:"contract"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	ExternalLink string      `json:"externalLink"`
	ImageURL     string      `json:"imageUrl"`
	ContentURL   string      `json:"contentUrl,omitempty"`
	Quantity     *int        `json:"quantity,omitempty"`
	ContentType  string      `json:"contentType"`
	State        int         `json:"state"`
}

// NFTContract describes the contract of an NFT.
type NFTContract struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Scheme       string `json:"scheme"`
	Description  string `json:"description,omitempty"`
	Network      string `json:"network"`
	ExternalLink string `json:"externalLink,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
}

var nftSchemes = map[int]string{
	1: "ERC721",
	2: "ERC1155",
	3: "SBT",
	4: "DNFT",
	5: "SOLANA_SFA",
	6: "KIP37",
	7: "KIP17",
}

var nftContentTypes = map[int]string{
	1: "image",
	2: "video",
}

// GetAccounts lists the wallet's accounts, optionally limited to networks.
// Unless withEOA is set, an AA account replaces the EOA it is built on.
func (w *Widget) GetAccounts(ctx context.Context, networks []string, withEOA bool) ([]Account, error) {
	u, err := w.requireLogin(ctx)
	if err != nil {
		return nil, err
	}
	detail, err := w.detailAccounts(ctx, u, withEOA)
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(detail))
	for _, a := range detail {
		if len(networks) > 0 && !slices.Contains(networks, a.Network) {
			continue
		}
		accounts = append(accounts, accountFromApp(a))
	}
	return accounts, nil
}

// GetBalance fetches balances for accounts, or for every account when none
// are given. Accounts whose balance cannot be fetched are left out.
func (w *Widget) GetBalance(ctx context.Context, accounts ...Account) ([]AccountBalance, error) {
	u, err := w.requireLogin(ctx)
	if err != nil {
		return nil, err
	}
	detail, err := w.detailAccounts(ctx, u, true)
	if err != nil {
		return nil, err
	}
	if len(detail) == 0 {
		return nil, wepinerr.ErrAccountNotFound
	}

	// Token accounts share their coin account's balance response.
	var targets []network.AppAccount
	for _, d := range detail {
		if d.Contract != "" {
			continue
		}
		if len(accounts) == 0 || slices.ContainsFunc(accounts, func(a Account) bool {
			return a.Network == d.Network && a.Address == d.Address
		}) {
			targets = append(targets, d)
		}
	}
	if len(targets) == 0 {
		return nil, wepinerr.ErrAccountNotFound
	}

	results := make([]*AccountBalance, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(balanceFetchLimit)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			resp, err := w.backend.GetAccountBalance(gctx, target.AccountID)
			if err != nil {
				log.Warn().Err(err).Str("account_id", target.AccountID).Msg("Balance fetch failed, skipping account")
				return nil
			}
			results[i] = accountBalance(detail, target, resp)
			return nil
		})
	}
	g.Wait()

	balances := make([]AccountBalance, 0, len(results))
	for _, b := range results {
		if b != nil {
			balances = append(balances, *b)
		}
	}
	if len(balances) == 0 {
		return nil, wepinerr.New(wepinerr.AccountNotFound, "no balances could be fetched")
	}
	return balances, nil
}

// GetNFTs lists the NFTs of the wallet's accounts, optionally limited to
// networks. refresh asks the backend to re-index first.
func (w *Widget) GetNFTs(ctx context.Context, refresh bool, networks ...string) ([]NFT, error) {
	u, err := w.requireLogin(ctx)
	if err != nil {
		return nil, err
	}
	detail, err := w.detailAccounts(ctx, u, true)
	if err != nil {
		return nil, err
	}
	if len(detail) == 0 {
		return nil, wepinerr.ErrAccountNotFound
	}

	req := network.NFTListRequest{WalletID: u.walletID, UserID: u.userID}
	var resp *network.NFTListResponse
	if refresh {
		resp, err = w.backend.RefreshNFTList(ctx, req)
	} else {
		resp, err = w.backend.GetNFTList(ctx, req)
	}
	if err != nil {
		return nil, wepinerr.From(err)
	}

	available := detail
	if len(networks) > 0 {
		available = slices.DeleteFunc(slices.Clone(detail), func(a network.AppAccount) bool {
			return !slices.Contains(networks, a.Network)
		})
	}

	nfts := make([]NFT, 0, len(resp.NFTs))
	for _, n := range resp.NFTs {
		idx := slices.IndexFunc(available, func(a network.AppAccount) bool { return a.AccountID == n.AccountID })
		if idx < 0 {
			continue
		}
		nfts = append(nfts, nftFromApp(n, available[idx]))
	}
	return nfts, nil
}

// mergeAAAccounts combines EOA and AA accounts. With withEOA both are
// listed; otherwise an AA account on the same coin, contract and EOA
// address replaces its EOA account.
func mergeAAAccounts(accounts, aa []network.AppAccount, withEOA bool) []network.AppAccount {
	if len(aa) == 0 {
		return accounts
	}
	if withEOA {
		return append(slices.Clone(accounts), aa...)
	}

	merged := make([]network.AppAccount, len(accounts))
	for i, a := range accounts {
		merged[i] = a
		for _, cand := range aa {
			if sameCoin(cand.CoinID, a.CoinID) && cand.Contract == a.Contract && cand.EOAAddress == a.Address {
				merged[i] = cand
				break
			}
		}
	}
	return merged
}

func sameCoin(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func accountFromApp(a network.AppAccount) Account {
	acc := Account{Network: a.Network, Address: a.Address, IsAA: a.IsAA}
	if a.Contract != "" && a.AccountTokenID != "" {
		acc.Contract = a.Contract
	}
	return acc
}

// accountBalance keeps the tokens that are registered to target as token accounts.
func accountBalance(detail []network.AppAccount, target network.AppAccount, resp *network.BalanceResponse) *AccountBalance {
	tokens := []TokenBalance{}
	for _, t := range resp.Tokens {
		registered := slices.ContainsFunc(detail, func(d network.AppAccount) bool {
			return d.AccountID == target.AccountID && d.AccountTokenID != "" && d.Contract == t.Contract
		})
		if !registered {
			continue
		}
		tokens = append(tokens, TokenBalance{
			Contract: t.Contract,
			Symbol:   t.Symbol,
			Balance:  formatBalance(t.Balance, t.Decimals),
		})
	}
	return &AccountBalance{
		Network: target.Network,
		Address: target.Address,
		Symbol:  target.Symbol,
		Balance: formatBalance(resp.Balance, resp.Decimals),
		Tokens:  tokens,
	}
}

// formatBalance renders an integer amount of base units as a decimal with
// trailing zeros trimmed. Unparsable input renders as "0".
func formatBalance(balance string, decimals int) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(balance), 10)
	if !ok {
		return "0"
	}
	if decimals <= 0 {
		return n.String()
	}

	neg := n.Sign() < 0
	n.Abs(n)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(n, divisor, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", decimals-len(digits)) + digits
		out += "." + strings.TrimRight(digits, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

func nftFromApp(n network.AppNFT, owner network.AppAccount) NFT {
	scheme, ok := nftSchemes[n.Contract.Scheme]
	if !ok {
		scheme = strconv.Itoa(n.Contract.Scheme)
	}
	contentType, ok := nftContentTypes[n.ContentType]
	if !ok {
		contentType = strconv.Itoa(n.ContentType)
	}
	return NFT{
		Account: accountFromApp(owner),
		Contract: NFTContract{
			Name:         n.Contract.Name,
			Address:      n.Contract.Address,
			Scheme:       scheme,
			Description:  n.Contract.Description,
			Network:      n.Contract.Network,
			ExternalLink: n.Contract.ExternalLink,
			ImageURL:     n.Contract.ImageURL,
		},
		Name:         n.Name,
		Description:  n.Description,
		ExternalLink: n.ExternalLink,
		ImageURL:     n.ImageURL,
		ContentURL:   n.ContentURL,
		Quantity:     n.Quantity,
		ContentType:  contentType,
		State:        n.State,
	}
}
