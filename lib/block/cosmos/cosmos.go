// Package cosmos implements the chain interface for Cosmos SDK chains with the CosmWasm module, talking to the
// node's REST (LCD) gateway. Transactions are signed in SIGN_MODE_DIRECT.
package cosmos

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tarancss/chatrelay/lib/block/types"
	"github.com/tarancss/chatrelay/lib/config"
	"github.com/tarancss/chatrelay/lib/keys"
)

// REST paths of the LCD gateway.
const (
	accountsPath = "/cosmos/auth/v1beta1/accounts/"
	nodeInfoPath = "/cosmos/base/tendermint/v1beta1/node_info"
	simulatePath = "/cosmos/tx/v1beta1/simulate"
	txsPath      = "/cosmos/tx/v1beta1/txs"
	smartPath    = "/cosmwasm/wasm/v1/contract/%s/smart/%s"
)

// grpc status code NotFound as reported by the gateway.
const codeNotFound = 5

// Signer holds a private key.
type Signer interface {
	PubKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// Cosmos implements a connection to a cosmos-type chain.
type Cosmos struct {
	node     string
	chainID  string
	prefix   string
	gasPrice types.GasPrice
	gasAdj   float64
	timeout  time.Duration
	poll     time.Duration // first interval when waiting for inclusion
	hc       *http.Client
	mu       sync.Mutex
}

// Init returns a client to the node in cfg. No request is made until a session is opened.
func Init(cfg config.ChainConfig) (*Cosmos, error) {
	gp, err := types.ParseGasPrice(cfg.GasPrice)
	if err != nil {
		return nil, err
	}

	if cfg.Node == "" {
		return nil, fmt.Errorf("%w: empty node url", types.ErrTransport)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.ChainTimeoutDefault
	}

	adj := cfg.GasAdjustment
	if adj <= 0 {
		adj = config.GasAdjustmentDefault
	}

	return &Cosmos{
		node:     strings.TrimRight(cfg.Node, "/"),
		chainID:  cfg.ChainID,
		prefix:   cfg.Prefix,
		gasPrice: gp,
		gasAdj:   adj,
		timeout:  timeout,
		poll:     time.Second,
		hc:       &http.Client{Timeout: timeout},
	}, nil
}

// Prefix returns the bech32 prefix of account addresses.
func (c *Cosmos) Prefix() string {
	return c.prefix
}

// Close releases idle connections.
func (c *Cosmos) Close() {
	c.hc.CloseIdleConnections()
}

// Connect opens an unsigned session. The node is contacted to resolve the chain id.
func (c *Cosmos) Connect(ctx context.Context) (*Client, error) {
	if _, err := c.ChainID(ctx); err != nil {
		return nil, err
	}

	return &Client{c: c}, nil
}

// ConnectWithSigner opens a session that signs with s.
func (c *Cosmos) ConnectWithSigner(ctx context.Context, s Signer) (*Client, error) {
	if s == nil {
		return nil, types.ErrNoSigner
	}

	addr, err := keys.Address(s.PubKey(), c.prefix)
	if err != nil {
		return nil, err
	}

	if _, err = c.ChainID(ctx); err != nil {
		return nil, err
	}

	return &Client{c: c, signer: s, addr: addr}, nil
}

// ChainID returns the configured chain id or the network reported by the node.
func (c *Cosmos) ChainID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID != "" {
		return c.chainID, nil
	}

	var res struct {
		DefaultNodeInfo struct {
			Network string `json:"network"`
		} `json:"default_node_info"`
	}

	if err := c.get(ctx, nodeInfoPath, &res); err != nil {
		return "", err
	}

	if res.DefaultNodeInfo.Network == "" {
		return "", fmt.Errorf("%w: node info without network", types.ErrBadResponse)
	}

	c.chainID = res.DefaultNodeInfo.Network

	return c.chainID, nil
}

// gatewayError is the body the gateway returns on failures.
type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Cosmos) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Cosmos) post(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

// do sends a request to the gateway. Transport failures wrap types.ErrTransport, gateway errors are returned as
// *RequestError.
func (c *Cosmos) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}

		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.node+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrTransport, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		var ge gatewayError
		_ = json.Unmarshal(raw, &ge)

		if resp.StatusCode >= http.StatusInternalServerError && ge.Message == "" {
			return fmt.Errorf("%w: %s %s returned %d", types.ErrTransport, method, path, resp.StatusCode)
		}

		return &RequestError{Status: resp.StatusCode, Code: ge.Code, Message: ge.Message}
	}

	if err = json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s", types.ErrBadResponse, err.Error())
	}

	return nil
}

// RequestError is a well formed failure reply from the gateway, ie. a contract error during query or simulation.
type RequestError struct {
	Status  int
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("gateway returned %d code %d: %s", e.Status, e.Code, e.Message)
}

// absent tells whether err is the gateway reporting that an account or a transaction does not exist.
func absent(err error) bool {
	var re *RequestError

	return errors.As(err, &re) && (re.Status == http.StatusNotFound || re.Code == codeNotFound)
}

// Client is a chain session, optionally bound to a signer.
type Client struct {
	c      *Cosmos
	signer Signer
	addr   string
	mu     sync.Mutex // one transaction in flight per signer so sequences do not collide
}

// Address returns the signer address or an empty string for unsigned sessions.
func (cl *Client) Address() string {
	return cl.addr
}

type baseAccount struct {
	Address       string       `json:"address"`
	AccountNumber string       `json:"account_number"`
	Sequence      string       `json:"sequence"`
	BaseAccount   *baseAccount `json:"base_account"`
	BaseVesting   *struct {
		BaseAccount *baseAccount `json:"base_account"`
	} `json:"base_vesting_account"`
}

func (a *baseAccount) flatten() *baseAccount {
	switch {
	case a.BaseAccount != nil:
		return a.BaseAccount.flatten()
	case a.BaseVesting != nil && a.BaseVesting.BaseAccount != nil:
		return a.BaseVesting.BaseAccount.flatten()
	}

	return a
}

// GetAccount returns the account number and sequence of addr, or nil when the chain does not know it.
func (cl *Client) GetAccount(ctx context.Context, addr string) (*types.Account, error) {
	var res struct {
		Account *baseAccount `json:"account"`
	}

	err := cl.c.get(ctx, accountsPath+addr, &res)
	if absent(err) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if res.Account == nil {
		return nil, nil
	}

	a := res.Account.flatten()
	acc := &types.Account{Address: a.Address}

	if acc.AccountNumber, err = parseUint(a.AccountNumber); err != nil {
		return nil, err
	}

	if acc.Sequence, err = parseUint(a.Sequence); err != nil {
		return nil, err
	}

	if acc.Address == "" {
		acc.Address = addr
	}

	return acc, nil
}

// QueryContractSmart runs a read-only query on contract and returns the raw JSON result.
func (cl *Client) QueryContractSmart(ctx context.Context, contract string, query interface{}) (json.RawMessage, error) {
	q, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	var res struct {
		Data json.RawMessage `json:"data"`
	}

	path := fmt.Sprintf(smartPath, contract, base64.URLEncoding.EncodeToString(q))
	if err = cl.c.get(ctx, path, &res); err != nil {
		return nil, err
	}

	return res.Data, nil
}

// Execute signs and broadcasts a MsgExecuteContract with msg as JSON payload.
func (cl *Client) Execute(ctx context.Context, sender, contract string, msg interface{},
	funds ...types.Coin) (types.TxResult, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return types.TxResult{}, err
	}

	if err = cl.checkSender(sender); err != nil {
		return types.TxResult{}, err
	}

	return cl.signAndBroadcast(ctx, [][]byte{encodeMsgExecuteContract(sender, contract, payload, funds)}, "")
}

// SendTokens signs and broadcasts a bank MsgSend.
func (cl *Client) SendTokens(ctx context.Context, from, to string, amount []types.Coin,
	memo string) (types.TxResult, error) {
	if err := cl.checkSender(from); err != nil {
		return types.TxResult{}, err
	}

	return cl.signAndBroadcast(ctx, [][]byte{encodeMsgSend(from, to, amount)}, memo)
}

func (cl *Client) checkSender(sender string) error {
	if cl.signer == nil {
		return types.ErrNoSigner
	}

	if sender != cl.addr {
		return fmt.Errorf("%w: %s", types.ErrWrongSigner, sender)
	}

	return nil
}

type txResponse struct {
	Height  string `json:"height"`
	TxHash  string `json:"txhash"`
	Code    uint32 `json:"code"`
	RawLog  string `json:"raw_log"`
	GasUsed string `json:"gas_used"`
}

func (r txResponse) result() types.TxResult {
	h, _ := strconv.ParseInt(r.Height, 10, 64)
	g, _ := strconv.ParseInt(r.GasUsed, 10, 64)

	return types.TxResult{Code: r.Code, TxHash: r.TxHash, RawLog: r.RawLog, Height: h, GasUsed: g}
}

// signAndBroadcast simulates to estimate gas, signs, broadcasts in sync mode and waits until the transaction is
// included in a block. A rejected simulation is reported as a non-zero code, like a failed transaction.
func (cl *Client) signAndBroadcast(ctx context.Context, msgs [][]byte, memo string) (types.TxResult, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	chainID, err := cl.c.ChainID(ctx)
	if err != nil {
		return types.TxResult{}, err
	}

	acc, err := cl.GetAccount(ctx, cl.addr)
	if err != nil {
		return types.TxResult{}, err
	}

	if acc == nil {
		return types.TxResult{}, fmt.Errorf("%w: signer account %s does not exist", types.ErrBadResponse, cl.addr)
	}

	body := encodeTxBody(msgs, memo)
	pub := cl.signer.PubKey()

	// simulate with an empty signature and zero fee
	sim := encodeTxRaw(body, encodeAuthInfo(pub, acc.Sequence, types.Coin{Denom: cl.c.gasPrice.Denom, Amount: "0"}, 0), []byte{})

	var simRes struct {
		GasInfo struct {
			GasUsed string `json:"gas_used"`
		} `json:"gas_info"`
	}

	err = cl.c.post(ctx, simulatePath, map[string]string{"tx_bytes": base64.StdEncoding.EncodeToString(sim)}, &simRes)

	var re *RequestError
	if errors.As(err, &re) {
		code := uint32(re.Code)
		if code == 0 {
			code = 1
		}

		return types.TxResult{Code: code, RawLog: re.Message}, nil
	}

	if err != nil {
		return types.TxResult{}, err
	}

	used, err := parseUint(simRes.GasInfo.GasUsed)
	if err != nil {
		return types.TxResult{}, err
	}

	gas := types.AdjustGas(used, cl.c.gasAdj)
	authInfo := encodeAuthInfo(pub, acc.Sequence, cl.c.gasPrice.Fee(gas), gas)

	sig, err := cl.signer.Sign(encodeSignDoc(body, authInfo, chainID, acc.AccountNumber))
	if err != nil {
		return types.TxResult{}, err
	}

	var bres struct {
		TxResponse txResponse `json:"tx_response"`
	}

	err = cl.c.post(ctx, txsPath, map[string]string{
		"tx_bytes": base64.StdEncoding.EncodeToString(encodeTxRaw(body, authInfo, sig)),
		"mode":     "BROADCAST_MODE_SYNC",
	}, &bres)
	if err != nil {
		return types.TxResult{}, err
	}

	if bres.TxResponse.Code != 0 {
		return bres.TxResponse.result(), nil
	}

	return cl.c.waitForTx(ctx, bres.TxResponse.TxHash)
}

// waitForTx polls the node until the transaction is found or the chain timeout elapses.
func (c *Cosmos) waitForTx(ctx context.Context, hash string) (types.TxResult, error) {
	var res struct {
		TxResponse txResponse `json:"tx_response"`
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.poll
	b.MaxInterval = 3 * c.poll //nolint:gomnd
	b.MaxElapsedTime = c.timeout

	op := func() error {
		err := c.get(ctx, txsPath+"/"+hash, &res)
		if absent(err) {
			return types.ErrNotIncluded
		}

		var re *RequestError
		if errors.As(err, &re) {
			return backoff.Permanent(err)
		}

		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, types.ErrNotIncluded) {
			return types.TxResult{TxHash: hash}, fmt.Errorf("%w: %s after %v", types.ErrNotIncluded, hash, c.timeout)
		}

		return types.TxResult{TxHash: hash}, err
	}

	return res.TxResponse.result(), nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", types.ErrBadResponse, s)
	}

	return v, nil
}
