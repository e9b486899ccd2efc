// Package memory implements the store interface in process memory. Data is lost on exit; it serves single instance
// deployments and tests.
package memory

import (
	"context"
	"sort"

	"github.com/sasha-s/go-deadlock"

	"github.com/tarancss/chatrelay/lib/store"
)

// Memory implements an in-memory database.
type Memory struct {
	mu         deadlock.RWMutex
	identities []store.Identity
	groups     map[string]store.Group
	order      []string // group names in creation order
	messages   []store.ChatMessage
	provisions map[string]store.ProvisionRecord
	analytics  []store.AnalyticsEvent
}

// New returns an empty store.
func New() *Memory {
	return &Memory{
		groups:     make(map[string]store.Group),
		provisions: make(map[string]store.ProvisionRecord),
	}
}

// AddIdentity saves id unless its username, meta account or address is taken.
func (m *Memory) AddIdentity(_ context.Context, id store.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, i := range m.identities {
		if i.Username == id.Username || i.MetaAccount == id.MetaAccount || i.Address == id.Address {
			return store.ErrDuplicate
		}
	}

	m.identities = append(m.identities, id)

	return nil
}

func (m *Memory) identity(match func(store.Identity) bool) (store.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, i := range m.identities {
		if match(i) {
			return i, nil
		}
	}

	return store.Identity{}, store.ErrNotFound
}

// IdentityByUsername returns the identity registered with username.
func (m *Memory) IdentityByUsername(_ context.Context, username string) (store.Identity, error) {
	return m.identity(func(i store.Identity) bool { return i.Username == username })
}

// IdentityByMetaAccount returns the identity registered with the meta account.
func (m *Memory) IdentityByMetaAccount(_ context.Context, meta string) (store.Identity, error) {
	return m.identity(func(i store.Identity) bool { return i.MetaAccount == meta })
}

// IdentityByAddress returns the identity owning the chain address.
func (m *Memory) IdentityByAddress(_ context.Context, addr string) (store.Identity, error) {
	return m.identity(func(i store.Identity) bool { return i.Address == addr })
}

// AddGroup saves g unless the name is taken.
func (m *Memory) AddGroup(_ context.Context, g store.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g.Name]; ok {
		return store.ErrDuplicate
	}

	g.Members = append([]store.Member(nil), g.Members...)
	m.groups[g.Name] = g
	m.order = append(m.order, g.Name)

	return nil
}

// GetGroup returns a copy of the group.
func (m *Memory) GetGroup(_ context.Context, name string) (store.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[name]
	if !ok {
		return store.Group{}, store.ErrNotFound
	}

	g.Members = append([]store.Member(nil), g.Members...)

	return g, nil
}

// AddMember appends mb to the group. The check and the append happen under one lock.
func (m *Memory) AddMember(_ context.Context, group string, mb store.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[group]
	if !ok {
		return store.ErrNotFound
	}

	if _, ok = g.Member(mb.Address); ok {
		return store.ErrDuplicate
	}

	g.Members = append(g.Members, mb)
	m.groups[group] = g

	return nil
}

// SetRole changes the role of an existing member.
func (m *Memory) SetRole(_ context.Context, group, addr string, role store.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[group]
	if !ok {
		return store.ErrNotFound
	}

	for i := range g.Members {
		if g.Members[i].Address == addr {
			g.Members[i].Role = role

			return nil
		}
	}

	return store.ErrNotFound
}

// DeleteGroup removes the group.
func (m *Memory) DeleteGroup(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[name]; !ok {
		return store.ErrNotFound
	}

	delete(m.groups, name)

	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)

			break
		}
	}

	return nil
}

// GroupsByMember returns the groups addr belongs to, in creation order.
func (m *Memory) GroupsByMember(_ context.Context, addr string) ([]store.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gs := []store.Group{}

	for _, n := range m.order {
		g := m.groups[n]
		if _, ok := g.Member(addr); ok {
			g.Members = append([]store.Member(nil), g.Members...)
			gs = append(gs, g)
		}
	}

	return gs, nil
}

// AddMessage appends msg.
func (m *Memory) AddMessage(_ context.Context, msg store.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)

	return nil
}

// Conversation returns the messages exchanged between a and b in either direction, oldest first.
func (m *Memory) Conversation(_ context.Context, a, b string) ([]store.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := []store.ChatMessage{}

	for _, msg := range m.messages {
		if (msg.From == a && msg.To == b) || (msg.From == b && msg.To == a) {
			msgs = append(msgs, msg)
		}
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })

	return msgs, nil
}

// SaveProvision inserts or replaces the record with the same ID.
func (m *Memory) SaveProvision(_ context.Context, p store.ProvisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.provisions[p.ID] = p

	return nil
}

// Provision returns the journal record with id.
func (m *Memory) Provision(id string) (store.ProvisionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.provisions[id]

	return p, ok
}

// Provisions returns all journal records.
func (m *Memory) Provisions() []store.ProvisionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ps := make([]store.ProvisionRecord, 0, len(m.provisions))
	for _, p := range m.provisions {
		ps = append(ps, p)
	}

	return ps
}

// AddAnalytics records e.
func (m *Memory) AddAnalytics(_ context.Context, e store.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.analytics = append(m.analytics, e)

	return nil
}

// Analytics returns the recorded events.
func (m *Memory) Analytics() []store.AnalyticsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]store.AnalyticsEvent(nil), m.analytics...)
}
