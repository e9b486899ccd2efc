package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tarancss/chatrelay/lib/store"
)

var ctx = context.Background()

func TestIdentities(t *testing.T) {
	m := New()
	alice := store.Identity{Username: "alice", MetaAccount: "m1", Address: "xion1a"}

	if err := m.AddIdentity(ctx, alice); err != nil {
		t.Fatalf("err:%e", err)
	}

	cases := []struct {
		name string
		id   store.Identity
	}{
		{"same username", store.Identity{Username: "alice", MetaAccount: "m2", Address: "xion1b"}},
		{"same meta account", store.Identity{Username: "bob", MetaAccount: "m1", Address: "xion1b"}},
		{"same address", store.Identity{Username: "bob", MetaAccount: "m2", Address: "xion1a"}},
	}
	for _, c := range cases {
		if err := m.AddIdentity(ctx, c.id); !errors.Is(err, store.ErrDuplicate) {
			t.Errorf("%s: expected ErrDuplicate, got %v", c.name, err)
		}
	}

	if id, err := m.IdentityByMetaAccount(ctx, "m1"); err != nil || id.Address != "xion1a" {
		t.Errorf("lookup by meta account: %+v %v", id, err)
	}
	if id, err := m.IdentityByAddress(ctx, "xion1a"); err != nil || id.Username != "alice" {
		t.Errorf("lookup by address: %+v %v", id, err)
	}
	if _, err := m.IdentityByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGroups(t *testing.T) {
	m := New()
	g := store.Group{Name: "devs", CreatorAddress: "xion1a",
		Members: []store.Member{{Address: "xion1a", Role: store.RoleAdmin}}}

	if err := m.AddGroup(ctx, g); err != nil {
		t.Fatalf("err:%e", err)
	}
	if err := m.AddGroup(ctx, g); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	if err := m.AddMember(ctx, "devs", store.Member{Address: "xion1b", Role: store.RoleMember}); err != nil {
		t.Fatalf("err:%e", err)
	}
	if err := m.AddMember(ctx, "devs", store.Member{Address: "xion1b", Role: store.RoleMember}); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if err := m.AddMember(ctx, "nope", store.Member{Address: "xion1b"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := m.SetRole(ctx, "devs", "xion1b", store.RoleAdmin); err != nil {
		t.Errorf("err:%e", err)
	}
	if err := m.SetRole(ctx, "devs", "xion1c", store.RoleAdmin); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, _ := m.GetGroup(ctx, "devs")
	if len(got.Members) != 2 || !got.IsAdmin("xion1b") {
		t.Errorf("unexpected group %+v", got)
	}
	// returned copies do not alias the store
	got.Members[0].Role = store.RoleMember
	if again, _ := m.GetGroup(ctx, "devs"); again.Members[0].Role != store.RoleAdmin {
		t.Errorf("store mutated through a returned copy")
	}

	gs, _ := m.GroupsByMember(ctx, "xion1b")
	if len(gs) != 1 || gs[0].Name != "devs" {
		t.Errorf("unexpected groups %+v", gs)
	}

	if err := m.DeleteGroup(ctx, "devs"); err != nil {
		t.Errorf("err:%e", err)
	}
	if _, err := m.GetGroup(ctx, "devs"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentAddMember(t *testing.T) {
	m := New()
	_ = m.AddGroup(ctx, store.Group{Name: "g", CreatorAddress: "xion1a"})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.AddMember(ctx, "g", store.Member{Address: "xion1z", Role: store.RoleMember})
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	if g, _ := m.GetGroup(ctx, "g"); ok != 1 || len(g.Members) != 1 {
		t.Errorf("expected a single member, got %d successes and %+v", ok, g.Members)
	}
}

func TestConversation(t *testing.T) {
	m := New()
	now := time.Now()
	_ = m.AddMessage(ctx, store.ChatMessage{ID: "2", From: "b", To: "a", Body: "hi alice", Timestamp: now.Add(time.Second)})
	_ = m.AddMessage(ctx, store.ChatMessage{ID: "1", From: "a", To: "b", Body: "hi bob", Timestamp: now})
	_ = m.AddMessage(ctx, store.ChatMessage{ID: "3", From: "a", To: "c", Body: "other", Timestamp: now})

	msgs, err := m.Conversation(ctx, "a", "b")
	if err != nil || len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Errorf("unexpected conversation %+v %v", msgs, err)
	}
}
