// Package store defines the interface for database implementations used by the relay.
package store

import (
	"context"
	"errors"
)

// DB defines required methods for the relay. Uniqueness of usernames, meta accounts, addresses and group names is
// enforced by the implementation and reported as ErrDuplicate.
type DB interface {
	// identities
	AddIdentity(ctx context.Context, id Identity) error
	IdentityByUsername(ctx context.Context, username string) (Identity, error)
	IdentityByMetaAccount(ctx context.Context, meta string) (Identity, error)
	IdentityByAddress(ctx context.Context, addr string) (Identity, error)
	// groups
	AddGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, name string) (Group, error)
	AddMember(ctx context.Context, group string, m Member) error
	SetRole(ctx context.Context, group, addr string, role Role) error
	DeleteGroup(ctx context.Context, name string) error
	GroupsByMember(ctx context.Context, addr string) ([]Group, error)
	// messages
	AddMessage(ctx context.Context, m ChatMessage) error
	Conversation(ctx context.Context, a, b string) ([]ChatMessage, error)
	// provisioning journal and analytics
	SaveProvision(ctx context.Context, p ProvisionRecord) error
	AddAnalytics(ctx context.Context, e AnalyticsEvent) error
}

// Errors returned
var (
	ErrNotFound  = errors.New("data was not found in store")
	ErrDuplicate = errors.New("data already exists in store")
)
