// Package blocktest provides an in-process chain for tests of code built on package block. Accounts appear when they
// receive tokens, after VisibleAfter lookups, the way a real node lags behind a broadcast.
package blocktest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tarancss/chatrelay/lib/block"
	"github.com/tarancss/chatrelay/lib/block/types"
	"github.com/tarancss/chatrelay/lib/keys"
)

// Exec is a recorded contract execution.
type Exec struct {
	Sender   string
	Contract string
	Msg      json.RawMessage
}

// Send is a recorded token transfer.
type Send struct {
	From   string
	To     string
	Amount []types.Coin
	Memo   string
}

// Chain is a fake block.Chain. Exported fields may be set before use; read recorded calls through the accessors.
type Chain struct {
	VisibleAfter int    // lookups answered "absent" before a funded account shows up
	SendCode     uint32 // code returned by SendTokens
	ExecCode     uint32 // code returned by Execute
	ExecLog      string
	SendErr      error
	ExecErr      error
	ConnectErr   error

	mu       sync.Mutex
	prefix   string
	accounts map[string]*types.Account
	lookups  map[string]int
	queries  map[string]json.RawMessage
	execs    []Exec
	sends    []Send
	txn      int
}

// New returns an empty chain with the bech32 prefix.
func New(prefix string) *Chain {
	return &Chain{
		prefix:   prefix,
		accounts: map[string]*types.Account{},
		lookups:  map[string]int{},
		queries:  map[string]json.RawMessage{},
	}
}

// SetQuery sets the reply of a smart query. The query is matched by its JSON encoding.
func (c *Chain) SetQuery(query interface{}, reply string) {
	q, _ := json.Marshal(query)

	c.mu.Lock()
	c.queries[string(q)] = json.RawMessage(reply)
	c.mu.Unlock()
}

// Execs returns the recorded executions.
func (c *Chain) Execs() []Exec {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Exec(nil), c.execs...)
}

// Sends returns the recorded transfers.
func (c *Chain) Sends() []Send {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Send(nil), c.sends...)
}

// Lookups returns how many times addr was looked up.
func (c *Chain) Lookups(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lookups[addr]
}

func (c *Chain) Prefix() string { return c.prefix }

func (c *Chain) Close() {}

func (c *Chain) Connect(_ context.Context) (block.Reader, error) {
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}

	return &session{c: c}, nil
}

func (c *Chain) ConnectWithSigner(_ context.Context, s block.Signer) (block.Writer, error) {
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}

	addr, err := keys.Address(s.PubKey(), c.prefix)
	if err != nil {
		return nil, err
	}

	return &session{c: c, addr: addr}, nil
}

func (c *Chain) hash() string {
	c.txn++

	return fmt.Sprintf("%064X", c.txn)
}

type session struct {
	c    *Chain
	addr string
}

func (s *session) Address() string { return s.addr }

func (s *session) GetAccount(_ context.Context, addr string) (*types.Account, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.lookups[addr]++

	acc, ok := s.c.accounts[addr]
	if !ok || s.c.lookups[addr] <= s.c.VisibleAfter {
		return nil, nil
	}

	cp := *acc

	return &cp, nil
}

func (s *session) QueryContractSmart(_ context.Context, _ string, query interface{}) (json.RawMessage, error) {
	q, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if r, ok := s.c.queries[string(q)]; ok {
		return r, nil
	}

	return json.RawMessage("null"), nil
}

func (s *session) Execute(_ context.Context, sender, contract string, msg interface{},
	_ ...types.Coin) (types.TxResult, error) {
	if s.addr == "" {
		return types.TxResult{}, types.ErrNoSigner
	}

	if sender != s.addr {
		return types.TxResult{}, types.ErrWrongSigner
	}

	m, err := json.Marshal(msg)
	if err != nil {
		return types.TxResult{}, err
	}

	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.c.ExecErr != nil {
		return types.TxResult{}, s.c.ExecErr
	}

	s.c.execs = append(s.c.execs, Exec{Sender: sender, Contract: contract, Msg: m})

	return types.TxResult{Code: s.c.ExecCode, RawLog: s.c.ExecLog, TxHash: s.c.hash()}, nil
}

func (s *session) SendTokens(_ context.Context, from, to string, amount []types.Coin,
	memo string) (types.TxResult, error) {
	if s.addr == "" {
		return types.TxResult{}, types.ErrNoSigner
	}

	if from != s.addr {
		return types.TxResult{}, types.ErrWrongSigner
	}

	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.c.SendErr != nil {
		return types.TxResult{}, s.c.SendErr
	}

	s.c.sends = append(s.c.sends, Send{From: from, To: to, Amount: amount, Memo: memo})

	if s.c.SendCode != 0 {
		return types.TxResult{Code: s.c.SendCode, RawLog: "insufficient funds", TxHash: s.c.hash()}, nil
	}

	if _, ok := s.c.accounts[to]; !ok {
		s.c.accounts[to] = &types.Account{Address: to, AccountNumber: uint64(len(s.c.accounts) + 1)}
	}

	return types.TxResult{TxHash: s.c.hash()}, nil
}
