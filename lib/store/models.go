package store

import "time"

// Role of a group member.
type Role string

// Member roles.
const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Identity binds a username and an external meta account to a generated chain account. It is never modified after
// creation. Mnemonic holds the age ciphertext when Sealed is set.
type Identity struct {
	Username    string    `json:"username" bson:"username"`
	MetaAccount string    `json:"meta_account" bson:"meta_account"`
	Address     string    `json:"xion_address" bson:"xion_address"`
	Mnemonic    string    `json:"-" bson:"mnemonic"`
	Sealed      bool      `json:"-" bson:"sealed"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Member of a group.
type Member struct {
	Address string `json:"xion_address" bson:"xion_address"`
	Role    Role   `json:"role" bson:"role"`
}

// Group is the persisted snapshot of a group created on chain.
type Group struct {
	Name           string    `json:"group_name" bson:"group_name"`
	CreatorAddress string    `json:"creator_address" bson:"creator_address"`
	Members        []Member  `json:"members" bson:"members"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// Member returns the member with address addr.
func (g Group) Member(addr string) (Member, bool) {
	for _, m := range g.Members {
		if m.Address == addr {
			return m, true
		}
	}

	return Member{}, false
}

// IsAdmin returns true when addr created the group or holds the admin role.
func (g Group) IsAdmin(addr string) bool {
	if addr == g.CreatorAddress {
		return true
	}

	m, ok := g.Member(addr)

	return ok && m.Role == RoleAdmin
}

// ChatMessage is an append-only message. To is a user id for direct messages or a group name for group messages,
// which also carry the hash of the transaction that posted them.
type ChatMessage struct {
	ID        string    `json:"id" bson:"_id"`
	From      string    `json:"from" bson:"from"`
	To        string    `json:"to" bson:"to"`
	Body      string    `json:"message" bson:"message"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	TxHash    string    `json:"txHash,omitempty" bson:"tx_hash,omitempty"`
}

// Provisioning statuses.
const (
	StatusRunning      = "running"
	StatusFailed       = "failed"
	StatusInconsistent = "inconsistent"
	StatusDone         = "done"
)

// ProvisionRecord journals a registration so an operator can tell which side effects happened when it fails.
type ProvisionRecord struct {
	ID          string    `json:"id" bson:"_id"`
	Username    string    `json:"username" bson:"username"`
	MetaAccount string    `json:"meta_account" bson:"meta_account"`
	Address     string    `json:"address,omitempty" bson:"address,omitempty"`
	Stage       string    `json:"stage" bson:"stage"`
	Status      string    `json:"status" bson:"status"`
	FundTx      string    `json:"fundTx,omitempty" bson:"fund_tx,omitempty"`
	RegisterTx  string    `json:"registerTx,omitempty" bson:"register_tx,omitempty"`
	Error       string    `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// AnalyticsEvent records one API hit.
type AnalyticsEvent struct {
	Route     string    `json:"route" bson:"route"`
	Method    string    `json:"method" bson:"method"`
	UserMeta  string    `json:"userMeta" bson:"userMeta"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}
