package provision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tarancss/chatrelay/lib/block"
	"github.com/tarancss/chatrelay/lib/block/types"
	"github.com/tarancss/chatrelay/lib/config"
	"github.com/tarancss/chatrelay/lib/errs"
	"github.com/tarancss/chatrelay/lib/keys"
	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/relay/metrics"
)

// FundingFailed is returned when the chain rejects the stipend transfer.
type FundingFailed struct {
	Recipient string
	Code      uint32
	RawLog    string
	TxHash    string
}

func (e *FundingFailed) Error() string {
	return fmt.Sprintf("funding %s failed with code %d: %s", e.Recipient, e.Code, e.RawLog)
}

// Funder sends the initial stipend to new accounts.
type Funder interface {
	Fund(ctx context.Context, recipient string) (types.TxResult, error)
}

// Faucet funds new accounts from a single configured account. It is not idempotent: every call moves funds.
type Faucet struct {
	chain  block.Chain
	key    *keys.Key
	amount []types.Coin
	memo   string
	mu     sync.Mutex
	w      block.Writer
}

// NewFaucet derives the funding key. Phrases shorter than config.MinMnemonicWords are rejected.
func NewFaucet(chain block.Chain, mnemonic, amount, memo string) (*Faucet, error) {
	if n := len(strings.Fields(mnemonic)); n < config.MinMnemonicWords {
		return nil, fmt.Errorf("%w: %d words", config.ErrFaucetMnemonic, n)
	}

	key, err := keys.FromMnemonic(mnemonic, chain.Prefix())
	if err != nil {
		return nil, fmt.Errorf("faucet key: %w", err)
	}

	coin, err := types.ParseCoin(amount)
	if err != nil {
		return nil, err
	}

	return &Faucet{chain: chain, key: key, amount: []types.Coin{coin}, memo: memo}, nil
}

// Address returns the faucet account.
func (f *Faucet) Address() string {
	return f.key.Address
}

// writer returns the signing session, opening it on first use.
func (f *Faucet) writer(ctx context.Context) (block.Writer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.w == nil {
		w, err := f.chain.ConnectWithSigner(ctx, f.key)
		if err != nil {
			return nil, err
		}

		f.w = w
	}

	return f.w, nil
}

// Fund sends the stipend to recipient.
func (f *Faucet) Fund(ctx context.Context, recipient string) (types.TxResult, error) {
	if err := keys.ValidateAddress(recipient, f.chain.Prefix()); err != nil {
		return types.TxResult{}, errs.E(errs.Validation, "invalid recipient address", err)
	}

	w, err := f.writer(ctx)
	if err != nil {
		return types.TxResult{}, err
	}

	res, err := w.SendTokens(ctx, f.key.Address, recipient, f.amount, f.memo)
	metrics.ChainTxs.WithLabelValues("fund", metrics.TxResult(res.Code, err)).Inc()

	if err != nil {
		return res, err
	}

	if res.Code != 0 {
		return res, &FundingFailed{Recipient: recipient, Code: res.Code, RawLog: res.RawLog, TxHash: res.TxHash}
	}

	logging.Log.Debug("[faucet] funded %s with %v tx:%s", recipient, f.amount, res.TxHash)

	return res, nil
}
