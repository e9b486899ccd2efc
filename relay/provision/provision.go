// Package provision registers users: it generates a wallet, funds it from the faucet, waits until the chain knows
// the account, registers the username on the contract and finally persists the identity.
//
// The chain and the store share no transaction. Every stage transition is journaled so a failed registration tells
// which side effects happened: nothing moved (GenerateWallet, Fund), funds moved but no chain registration
// (AwaitVisibility, RegisterOnChain), or chain registration done but no identity stored (Persist).
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tarancss/chatrelay/lib/block"
	"github.com/tarancss/chatrelay/lib/block/types"
	"github.com/tarancss/chatrelay/lib/errs"
	"github.com/tarancss/chatrelay/lib/keys"
	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/lib/msg"
	mtype "github.com/tarancss/chatrelay/lib/msg/types"
	"github.com/tarancss/chatrelay/lib/seal"
	"github.com/tarancss/chatrelay/lib/store"
	"github.com/tarancss/chatrelay/relay/contract"
	"github.com/tarancss/chatrelay/relay/metrics"
)

// Stage of a registration. Stages run strictly in order.
type Stage int

// Registration stages.
const (
	GenerateWallet Stage = iota
	Fund
	AwaitVisibility
	RegisterOnChain
	Persist
	Done
)

var stageNames = [...]string{"GenerateWallet", "Fund", "AwaitVisibility", "RegisterOnChain", "Persist", "Done"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}

	return stageNames[s]
}

// RegistrationFailed names the stage a registration stopped at.
type RegistrationFailed struct {
	Stage   Stage
	Address string
	Code    uint32
	RawLog  string
	Err     error
}

func (e *RegistrationFailed) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("registration failed at %s: code %d: %s", e.Stage, e.Code, e.RawLog)
	}

	return fmt.Sprintf("registration failed at %s: %v", e.Stage, e.Err)
}

func (e *RegistrationFailed) Unwrap() error {
	return e.Err
}

// Provisioner runs registrations.
type Provisioner struct {
	chain    block.Chain
	db       store.DB
	funder   Funder
	poller   Poller
	contract string
	sealer   *seal.Sealer
	mb       msg.MsgBroker // optional
}

// New returns a Provisioner. mb may be nil.
func New(chain block.Chain, db store.DB, f Funder, p Poller, contractAddr string, s *seal.Sealer,
	mb msg.MsgBroker) *Provisioner {
	return &Provisioner{chain: chain, db: db, funder: f, poller: p, contract: contractAddr, sealer: s, mb: mb}
}

// Register provisions a chain account for username and meta and returns its address.
func (p *Provisioner) Register(ctx context.Context, username, meta string) (string, error) {
	if username == "" || meta == "" {
		return "", errs.E(errs.Validation, "username and meta_account are required", nil)
	}

	if err := p.precheck(ctx, username, meta); err != nil {
		return "", err
	}

	j := &journal{p: p, rec: store.ProvisionRecord{
		ID: uuid.NewString(), Username: username, MetaAccount: meta, CreatedAt: time.Now().UTC(),
	}}

	addr, err := p.run(ctx, j, username, meta)
	if err != nil {
		var rf *RegistrationFailed
		if errors.As(err, &rf) {
			metrics.Registrations.WithLabelValues(rf.Stage.String(), "failed").Inc()
		}

		return "", err
	}

	metrics.Registrations.WithLabelValues(Done.String(), "ok").Inc()

	return addr, nil
}

// precheck rejects taken usernames and meta accounts before any chain call. It is not a lock: concurrent
// registrations may pass it and the store unique indexes decide.
func (p *Provisioner) precheck(ctx context.Context, username, meta string) error {
	_, err := p.db.IdentityByUsername(ctx, username)
	if err == nil {
		return errs.E(errs.Conflict, "Username already taken", nil)
	}

	if !errors.Is(err, store.ErrNotFound) {
		return errs.E(errs.Internal, "Registration failed", err)
	}

	id, err := p.db.IdentityByMetaAccount(ctx, meta)
	if err == nil {
		e := errs.E(errs.Conflict, "Meta account already registered", nil)
		e.Address = id.Address

		return e
	}

	if !errors.Is(err, store.ErrNotFound) {
		return errs.E(errs.Internal, "Registration failed", err)
	}

	return nil
}

func fail(k errs.Kind, rf *RegistrationFailed) error {
	return errs.E(k, "Registration failed", rf)
}

// run executes the stages in order.
func (p *Provisioner) run(ctx context.Context, j *journal, username, meta string) (string, error) {
	// GenerateWallet
	j.enter(ctx, GenerateWallet)

	key, err := keys.Generate(p.chain.Prefix())
	if err != nil {
		return "", j.failed(ctx, fail(errs.Internal, &RegistrationFailed{Stage: GenerateWallet, Err: err}))
	}

	j.rec.Address = key.Address

	// Fund
	j.enter(ctx, Fund)

	res, err := p.funder.Fund(ctx, key.Address)
	if err != nil {
		rf := &RegistrationFailed{Stage: Fund, Address: key.Address, Err: err}

		var ff *FundingFailed
		if errors.As(err, &ff) {
			rf.Code, rf.RawLog = ff.Code, ff.RawLog
		}

		return "", j.failed(ctx, fail(chainKind(err), rf))
	}

	j.rec.FundTx = res.TxHash

	// AwaitVisibility
	j.enter(ctx, AwaitVisibility)

	reader, err := p.chain.Connect(ctx)
	if err != nil {
		return "", j.failed(ctx, fail(chainKind(err),
			&RegistrationFailed{Stage: AwaitVisibility, Address: key.Address, Err: err}))
	}

	if _, err = p.poller.Await(ctx, reader, key.Address); err != nil {
		k := chainKind(err)

		var ano *AccountNotObserved
		if errors.As(err, &ano) {
			k = errs.Timeout
		}

		return "", j.failed(ctx, fail(k, &RegistrationFailed{Stage: AwaitVisibility, Address: key.Address, Err: err}))
	}

	// RegisterOnChain
	j.enter(ctx, RegisterOnChain)

	if res, err = p.registerOnChain(ctx, key, username); err != nil {
		return "", j.failed(ctx, err)
	}

	j.rec.RegisterTx = res.TxHash

	// Persist
	j.enter(ctx, Persist)

	if err = p.persist(ctx, key, username, meta); err != nil {
		metrics.Inconsistencies.WithLabelValues("register").Inc()
		logging.Log.Error("[RECONCILE] user %s registered on chain as %s (tx %s) but not stored: %v",
			username, key.Address, res.TxHash, err)

		return "", j.inconsistent(ctx, fail(errs.Inconsistency,
			&RegistrationFailed{Stage: Persist, Address: key.Address, Err: err}))
	}

	j.rec.Stage, j.rec.Status = Done.String(), store.StatusDone
	j.save(ctx)

	logging.Log.Info("[register] %s registered as %s", username, key.Address)

	return key.Address, nil
}

func (p *Provisioner) registerOnChain(ctx context.Context, key *keys.Key, username string) (types.TxResult, error) {
	w, err := p.chain.ConnectWithSigner(ctx, key)
	if err != nil {
		return types.TxResult{}, fail(chainKind(err),
			&RegistrationFailed{Stage: RegisterOnChain, Address: key.Address, Err: err})
	}

	res, err := w.Execute(ctx, key.Address, p.contract, contract.RegisterUser(username, key.Address))
	metrics.ChainTxs.WithLabelValues("register", metrics.TxResult(res.Code, err)).Inc()

	if err != nil {
		return res, fail(chainKind(err), &RegistrationFailed{Stage: RegisterOnChain, Address: key.Address, Err: err})
	}

	if res.Code != 0 {
		return res, fail(errs.Chain, &RegistrationFailed{Stage: RegisterOnChain, Address: key.Address,
			Code: res.Code, RawLog: res.RawLog, Err: fmt.Errorf("code %d", res.Code)})
	}

	return res, nil
}

func (p *Provisioner) persist(ctx context.Context, key *keys.Key, username, meta string) error {
	mnemonic, sealed, err := p.sealer.Seal(key.Mnemonic)
	if err != nil {
		return err
	}

	return p.db.AddIdentity(ctx, store.Identity{
		Username:    username,
		MetaAccount: meta,
		Address:     key.Address,
		Mnemonic:    mnemonic,
		Sealed:      sealed,
		CreatedAt:   time.Now().UTC(),
	})
}

// chainKind classifies a chain call error.
func chainKind(err error) errs.Kind {
	switch {
	case errors.Is(err, types.ErrNotIncluded), errors.Is(err, context.DeadlineExceeded):
		return errs.Timeout
	case errs.Is(err, errs.Validation):
		return errs.Validation
	}

	return errs.Chain
}

// journal records stage transitions in the store and on the broker. Journal failures are logged and never fail the
// registration.
type journal struct {
	p   *Provisioner
	rec store.ProvisionRecord
}

func (j *journal) enter(ctx context.Context, s Stage) {
	j.rec.Stage = s.String()
	j.rec.Status = store.StatusRunning
	j.save(ctx)
}

func (j *journal) failed(ctx context.Context, err error) error {
	j.rec.Status = store.StatusFailed
	j.rec.Error = err.Error()
	j.save(ctx)

	logging.Log.Warn("[register] %s failed at %s: %v", j.rec.Username, j.rec.Stage, err)

	return err
}

func (j *journal) inconsistent(ctx context.Context, err error) error {
	j.rec.Status = store.StatusInconsistent
	j.rec.Error = err.Error()
	j.save(ctx)

	return err
}

func (j *journal) save(ctx context.Context) {
	j.rec.UpdatedAt = time.Now().UTC()

	if err := j.p.db.SaveProvision(ctx, j.rec); err != nil {
		logging.Log.Warn("[register] cannot journal %s at %s: %v", j.rec.ID, j.rec.Stage, err)
	}

	if j.p.mb == nil {
		return
	}

	tx := j.rec.RegisterTx
	if tx == "" {
		tx = j.rec.FundTx
	}

	if err := j.p.mb.SendProvision(mtype.ProvisionEvent{
		ID: j.rec.ID, Username: j.rec.Username, Address: j.rec.Address, Stage: j.rec.Stage, Status: j.rec.Status,
		TxHash: tx, Error: j.rec.Error, Timestamp: j.rec.UpdatedAt,
	}); err != nil {
		logging.Log.Warn("[register] cannot publish %s at %s: %v", j.rec.ID, j.rec.Stage, err)
	}
}
