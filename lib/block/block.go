// Package block defines the interface required for the chain connection used by the relay.
package block

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tarancss/chatrelay/lib/block/cosmos"
	"github.com/tarancss/chatrelay/lib/block/types"
	"github.com/tarancss/chatrelay/lib/config"
)

// Reader is an unsigned, read-only chain session.
type Reader interface {
	// GetAccount returns nil and no error when the address is not known to the chain yet.
	GetAccount(ctx context.Context, addr string) (*types.Account, error)
	QueryContractSmart(ctx context.Context, contract string, query interface{}) (json.RawMessage, error)
}

// Writer is a session bound to one signing key. Writes are irreversible once they return a zero code.
type Writer interface {
	Reader
	Address() string
	Execute(ctx context.Context, sender, contract string, msg interface{}, funds ...types.Coin) (types.TxResult, error)
	SendTokens(ctx context.Context, from, to string, amount []types.Coin, memo string) (types.TxResult, error)
}

// Signer holds a private key. keys.Key implements it.
type Signer interface {
	PubKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// Chain opens sessions on a chain.
type Chain interface {
	Connect(ctx context.Context) (Reader, error)
	ConnectWithSigner(ctx context.Context, s Signer) (Writer, error)
	Prefix() string
	Close()
}

type cosmosChain struct {
	c *cosmos.Cosmos
}

func (cc cosmosChain) Connect(ctx context.Context) (Reader, error) {
	cl, err := cc.c.Connect(ctx)
	if err != nil {
		return nil, err
	}

	return cl, nil
}

func (cc cosmosChain) ConnectWithSigner(ctx context.Context, s Signer) (Writer, error) {
	cl, err := cc.c.ConnectWithSigner(ctx, s)
	if err != nil {
		return nil, err
	}

	return cl, nil
}

func (cc cosmosChain) Prefix() string { return cc.c.Prefix() }

func (cc cosmosChain) Close() { cc.c.Close() }

// Init returns the client to the configured chain.
func Init(cfg config.ChainConfig) (Chain, error) {
	c, err := cosmos.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot init chain %s: %w", cfg.Name, err)
	}

	return cosmosChain{c: c}, nil
}
