package command

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/tarancss/chatrelay/lib/errs"
	"github.com/tarancss/chatrelay/lib/store"
	"github.com/tarancss/chatrelay/relay/contract"
)

// Profile is what a user sees of their own identity, recovery phrase included.
type Profile struct {
	Username    string `json:"username"`
	MetaAccount string `json:"meta_account"`
	Address     string `json:"xion_address"`
	Mnemonic    string `json:"mnemonic,omitempty"`
}

// Members returns the members of the group.
func (s *Service) Members(ctx context.Context, group string) ([]store.Member, error) {
	g, err := s.db.GetGroup(ctx, group)
	if err != nil {
		return nil, storeErr(err, "Group not found")
	}

	return g.Members, nil
}

// GroupsOf returns the groups addr belongs to.
func (s *Service) GroupsOf(ctx context.Context, addr string) ([]store.Group, error) {
	gs, err := s.db.GroupsByMember(ctx, addr)
	if err != nil {
		return nil, storeErr(err, "")
	}

	return gs, nil
}

func empty(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)

	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("[]"))
}

func (s *Service) query(ctx context.Context, q interface{}, failure string) (json.RawMessage, error) {
	r, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, errs.E(errs.Chain, failure, err)
	}

	raw, err := r.QueryContractSmart(ctx, s.contract, q)
	if err != nil {
		return nil, errs.E(errs.Chain, failure, err)
	}

	return raw, nil
}

// GroupFromChain returns the group as the contract reports it.
func (s *Service) GroupFromChain(ctx context.Context, name string) (json.RawMessage, error) {
	raw, err := s.query(ctx, contract.GetGroup(name), "Failed to fetch group messages")
	if err != nil {
		return nil, err
	}

	if empty(raw) {
		return nil, errs.E(errs.NotFound, "No messages found for this group", nil)
	}

	return raw, nil
}

// GroupMessages returns the messages the contract holds for the group; an empty list when there are none.
func (s *Service) GroupMessages(ctx context.Context, group string) (json.RawMessage, error) {
	raw, err := s.query(ctx, contract.GetMessages(group), "Failed to fetch group messages")
	if err != nil {
		return nil, err
	}

	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) || len(raw) == 0 {
		return json.RawMessage("[]"), nil
	}

	return raw, nil
}

// Conversation returns the direct messages between two users, oldest first.
func (s *Service) Conversation(ctx context.Context, a, b string) ([]store.ChatMessage, error) {
	msgs, err := s.db.Conversation(ctx, a, b)
	if err != nil {
		return nil, storeErr(err, "")
	}

	return msgs, nil
}

// Login checks username and meta identify the same user and that the chain knows their account.
func (s *Service) Login(ctx context.Context, username, meta string) (Profile, error) {
	if username == "" || meta == "" {
		return Profile{}, errs.E(errs.Validation, "Both username and meta_account are required", nil)
	}

	u, err := s.db.IdentityByUsername(ctx, username)
	if err == nil && u.MetaAccount != meta {
		err = store.ErrNotFound
	}

	if err != nil {
		return Profile{}, storeErr(err, "Invalid username or meta_account")
	}

	r, err := s.chain.Connect(ctx)
	if err != nil {
		return Profile{}, errs.E(errs.Chain, "Login failed", err)
	}

	acc, err := r.GetAccount(ctx, u.Address)
	if err != nil {
		return Profile{}, errs.E(errs.Chain, "Login failed", err)
	}

	if acc == nil {
		return Profile{}, errs.E(errs.NotFound, "On-chain account not found", nil)
	}

	return Profile{Username: u.Username, MetaAccount: u.MetaAccount, Address: u.Address}, nil
}

// Me returns the identity of meta including the recovery phrase, unsealed.
func (s *Service) Me(ctx context.Context, meta string) (Profile, error) {
	if meta == "" {
		return Profile{}, errs.E(errs.Validation, "meta_account is required", nil)
	}

	u, err := s.db.IdentityByMetaAccount(ctx, meta)
	if err != nil {
		return Profile{}, storeErr(err, "User not found")
	}

	phrase, err := s.sealer.Open(u.Mnemonic, u.Sealed)
	if err != nil {
		return Profile{}, errs.E(errs.Internal, "Failed to retrieve user", err)
	}

	return Profile{Username: u.Username, MetaAccount: u.MetaAccount, Address: u.Address, Mnemonic: phrase}, nil
}
