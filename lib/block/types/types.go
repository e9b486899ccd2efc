// Package types common blockchain types.
package types

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
)

// Account is the on-chain view of an address.
type Account struct {
	Address       string `json:"address"`
	AccountNumber uint64 `json:"accountNumber"`
	Sequence      uint64 `json:"sequence"`
}

// Coin is an amount of a denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// String returns the coin in its compact form (ie. 200000uxion).
func (c Coin) String() string {
	return c.Amount + c.Denom
}

// TxResult is the outcome of a broadcast transaction. A non-zero Code means the chain rejected it.
type TxResult struct {
	Code    uint32 `json:"code"`
	TxHash  string `json:"txHash"`
	RawLog  string `json:"rawLog,omitempty"`
	Height  int64  `json:"height,omitempty"`
	GasUsed int64  `json:"gasUsed,omitempty"`
}

// GasPrice is a price per gas unit, ie. 0.025uxion.
type GasPrice struct {
	Amount *big.Rat
	Denom  string
}

var coinRe = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([a-zA-Z][a-zA-Z0-9/:._-]{1,127})$`)

// ParseGasPrice parses strings like "0.025uxion".
func ParseGasPrice(s string) (GasPrice, error) {
	m := coinRe.FindStringSubmatch(s)
	if m == nil {
		return GasPrice{}, fmt.Errorf("%w: %q", ErrBadGasPrice, s)
	}

	amt, ok := new(big.Rat).SetString(m[1])
	if !ok {
		return GasPrice{}, fmt.Errorf("%w: %q", ErrBadGasPrice, s)
	}

	return GasPrice{Amount: amt, Denom: m[2]}, nil
}

// ParseCoin parses strings like "200000uxion".
func ParseCoin(s string) (Coin, error) {
	m := coinRe.FindStringSubmatch(s)
	if m == nil {
		return Coin{}, fmt.Errorf("%w: %q", ErrBadCoin, s)
	}

	if _, err := strconv.ParseUint(m[1], 10, 64); err != nil {
		return Coin{}, fmt.Errorf("%w: %q", ErrBadCoin, s)
	}

	return Coin{Denom: m[2], Amount: m[1]}, nil
}

// Fee returns the fee for gas units, rounded up.
func (p GasPrice) Fee(gas uint64) Coin {
	tot := new(big.Rat).Mul(p.Amount, new(big.Rat).SetInt(new(big.Int).SetUint64(gas)))
	q, r := new(big.Int).QuoRem(tot.Num(), tot.Denom(), new(big.Int))

	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}

	return Coin{Denom: p.Denom, Amount: q.String()}
}

// AdjustGas scales simulated gas by the adjustment factor.
func AdjustGas(used uint64, adjustment float64) uint64 {
	return uint64(math.Ceil(float64(used) * adjustment))
}

// Error codes.
var (
	ErrTransport   = errors.New("chain endpoint unreachable")
	ErrBadResponse = errors.New("unexpected chain response")
	ErrNotIncluded = errors.New("transaction not included in a block yet")
	ErrBadGasPrice = errors.New("invalid gas price")
	ErrBadCoin     = errors.New("invalid coin")
	ErrNoSigner    = errors.New("client has no signer")
	ErrWrongSigner = errors.New("sender does not match signer address")
)
