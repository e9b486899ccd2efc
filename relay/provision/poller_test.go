package provision

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tarancss/chatrelay/lib/block/types"
)

// flaky answers lookups with errors, then absences, then the account.
type flaky struct {
	mu      sync.Mutex
	calls   int
	errs    int
	absent  int
	present bool
}

func (f *flaky) GetAccount(_ context.Context, addr string) (*types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	switch {
	case f.calls <= f.errs:
		return nil, types.ErrTransport
	case f.calls <= f.errs+f.absent || !f.present:
		return nil, nil
	}
	return &types.Account{Address: addr}, nil
}

func (f *flaky) QueryContractSmart(context.Context, string, interface{}) (json.RawMessage, error) {
	return nil, nil
}

func TestAwaitSwallowsErrors(t *testing.T) {
	r := &flaky{errs: 2, absent: 2, present: true}
	p := Poller{Interval: time.Millisecond, Timeout: time.Second}

	acc, err := p.Await(context.Background(), r, "xion1a")
	if err != nil || acc == nil {
		t.Fatalf("expected account, got %v %v", acc, err)
	}
	// returns on the first present observation
	if r.calls != 5 {
		t.Errorf("expected 5 polls, got %d", r.calls)
	}
}

func TestAwaitBounded(t *testing.T) {
	r := &flaky{}
	p := Poller{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}

	start := time.Now()
	_, err := p.Await(context.Background(), r, "xion1a")
	elapsed := time.Since(start)

	var ano *AccountNotObserved
	if !errors.As(err, &ano) || ano.Address != "xion1a" || ano.Elapsed < p.Timeout {
		t.Fatalf("expected AccountNotObserved, got %v", err)
	}
	if elapsed > p.Timeout+p.Interval+100*time.Millisecond {
		t.Errorf("poller ran %v", elapsed)
	}
	// one poll per interval at most, plus the first one
	if max := int(p.Timeout/p.Interval) + 1; r.calls > max {
		t.Errorf("%d polls, expected at most %d", r.calls, max)
	}
}

func TestAwaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Poller{Interval: time.Second, Timeout: time.Minute}.Await(ctx, &flaky{}, "xion1a")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
