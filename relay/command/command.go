// Package command implements the group and message operations. Each signed operation resolves the caller's key
// from the supplied recovery phrase, checks permissions against the stored group, submits the contract execution
// and then updates the store.
//
// The stored groups are a cache of chain state written after successful executions. Permission checks read the
// cache, so they may briefly disagree with the contract.
package command

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
	"github.com/tarancss/chatrelay/lib/seal"
	"github.com/tarancss/chatrelay/lib/store"
	"github.com/tarancss/chatrelay/relay/contract"
	"github.com/tarancss/chatrelay/relay/metrics"
)

// Service runs group, message and identity operations.
type Service struct {
	chain    block.Chain
	db       store.DB
	contract string
	sealer   *seal.Sealer
}

// New returns a Service.
func New(chain block.Chain, db store.DB, contractAddr string, s *seal.Sealer) *Service {
	return &Service{chain: chain, db: db, contract: contractAddr, sealer: s}
}

func (s *Service) resolve(mnemonic string) (*keys.Key, error) {
	k, err := keys.FromMnemonic(mnemonic, s.chain.Prefix())
	if err != nil {
		return nil, errs.E(errs.Validation, "Invalid mnemonic", err)
	}

	return k, nil
}

// storeErr classifies a store lookup error, using msg when nothing was found.
func storeErr(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.E(errs.NotFound, msg, nil)
	}

	return errs.E(errs.Internal, "Database error", err)
}

// execute signs msg with k and classifies the outcome. op labels the metrics and failure is the message used when
// the chain cannot be reached.
func (s *Service) execute(ctx context.Context, k *keys.Key, op, failure string, msg interface{}) (types.TxResult,
	error) {
	w, err := s.chain.ConnectWithSigner(ctx, k)
	if err != nil {
		return types.TxResult{}, errs.E(errs.Chain, failure, err)
	}

	res, err := w.Execute(ctx, k.Address, s.contract, msg)
	metrics.ChainTxs.WithLabelValues(op, metrics.TxResult(res.Code, err)).Inc()

	switch {
	case errors.Is(err, types.ErrNotIncluded):
		return res, errs.E(errs.Timeout, failure, err)
	case err != nil:
		return res, errs.E(errs.Chain, failure, err)
	case res.Code != 0:
		e := errs.E(errs.Chain, fmt.Sprintf("Transaction failed with code %d: %s", res.Code, res.RawLog), nil)
		e.Details = res.RawLog

		return res, e
	}

	return res, nil
}

// CreateGroup creates the group on chain and stores it with the creator as its only admin.
func (s *Service) CreateGroup(ctx context.Context, name, creatorMnemonic string) (store.Group, error) {
	if name == "" || creatorMnemonic == "" {
		return store.Group{}, errs.E(errs.Validation, "group_name and creator_mnemonic are required", nil)
	}

	k, err := s.resolve(creatorMnemonic)
	if err != nil {
		return store.Group{}, err
	}

	_, err = s.db.GetGroup(ctx, name)
	if err == nil {
		return store.Group{}, errs.E(errs.Conflict, "Group already exists", nil)
	}

	if !errors.Is(err, store.ErrNotFound) {
		return store.Group{}, storeErr(err, "")
	}

	res, err := s.execute(ctx, k, "create_group", "Group creation failed", contract.CreateGroup(name))
	if err != nil {
		return store.Group{}, err
	}

	g := store.Group{
		Name:           name,
		CreatorAddress: k.Address,
		Members:        []store.Member{{Address: k.Address, Role: store.RoleAdmin}},
		CreatedAt:      time.Now().UTC(),
	}

	if err = s.db.AddGroup(ctx, g); err != nil {
		metrics.Inconsistencies.WithLabelValues("create_group").Inc()
		logging.Log.Error("[RECONCILE] group %s created on chain (tx %s) but not stored: %v", name, res.TxHash, err)

		return store.Group{}, errs.E(errs.Inconsistency, "Group created on chain but not saved", err)
	}

	logging.Log.Info("[group] %s created by %s tx:%s", name, k.Address, res.TxHash)

	return g, nil
}

// PostGroupMessage posts body to the group on behalf of a member and returns the transaction hash.
func (s *Service) PostGroupMessage(ctx context.Context, group, senderMnemonic, body string) (string, error) {
	if group == "" || senderMnemonic == "" || body == "" {
		return "", errs.E(errs.Validation, "group_name, sender_mnemonic, and message are required", nil)
	}

	k, err := s.resolve(senderMnemonic)
	if err != nil {
		return "", err
	}

	g, err := s.db.GetGroup(ctx, group)
	if err != nil {
		return "", storeErr(err, "Group not found")
	}

	if _, err = s.db.IdentityByAddress(ctx, k.Address); err != nil {
		return "", storeErr(err, "User not found")
	}

	if _, ok := g.Member(k.Address); !ok {
		return "", errs.E(errs.Permission, "User is not a member of this group", nil)
	}

	res, err := s.execute(ctx, k, "post_message", "Failed to send group message", contract.PostGroupMessage(group, body))
	if err != nil {
		return "", err
	}

	// the message lives on chain; the local copy only serves history queries
	if err = s.db.AddMessage(ctx, store.ChatMessage{
		ID: uuid.NewString(), From: k.Address, To: group, Body: body, Timestamp: time.Now().UTC(), TxHash: res.TxHash,
	}); err != nil {
		metrics.Inconsistencies.WithLabelValues("post_message").Inc()
		logging.Log.Error("[RECONCILE] message %s to %s posted on chain but not stored: %v", res.TxHash, group, err)
	}

	return res.TxHash, nil
}

// AddMember adds the user owning meta to the group as a plain member.
func (s *Service) AddMember(ctx context.Context, group, meta string) ([]store.Member, error) {
	if meta == "" {
		return nil, errs.E(errs.Validation, "meta_account is required", nil)
	}

	u, err := s.db.IdentityByMetaAccount(ctx, meta)
	if err != nil {
		return nil, storeErr(err, "User with that meta_account not found")
	}

	err = s.db.AddMember(ctx, group, store.Member{Address: u.Address, Role: store.RoleMember})

	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, errs.E(errs.Conflict, "Member already exists", nil)
	case err != nil:
		return nil, storeErr(err, "Group not found")
	}

	return s.Members(ctx, group)
}

// PromoteMember gives the admin role to the member owning meta.
func (s *Service) PromoteMember(ctx context.Context, group, meta string) ([]store.Member, error) {
	if meta == "" {
		return nil, errs.E(errs.Validation, "meta_account is required", nil)
	}

	u, err := s.db.IdentityByMetaAccount(ctx, meta)
	if err != nil {
		return nil, storeErr(err, "User with that meta_account not found")
	}

	if _, err = s.db.GetGroup(ctx, group); err != nil {
		return nil, storeErr(err, "Group not found")
	}

	if err = s.db.SetRole(ctx, group, u.Address, store.RoleAdmin); err != nil {
		return nil, storeErr(err, "Member not found")
	}

	return s.Members(ctx, group)
}

// DeleteGroup removes the group when the user owning meta created it or administers it.
func (s *Service) DeleteGroup(ctx context.Context, group, meta string) error {
	if meta == "" {
		return errs.E(errs.Validation, "meta_account is required", nil)
	}

	u, err := s.db.IdentityByMetaAccount(ctx, meta)
	if err != nil {
		return storeErr(err, "User not found")
	}

	g, err := s.db.GetGroup(ctx, group)
	if err != nil {
		return storeErr(err, "Group not found")
	}

	if !g.IsAdmin(u.Address) {
		return errs.E(errs.Permission, "You do not have permission to delete this group", nil)
	}

	if err = s.db.DeleteGroup(ctx, group); err != nil {
		return storeErr(err, "Group not found")
	}

	logging.Log.Info("[group] %s deleted by %s", group, u.Address)

	return nil
}
