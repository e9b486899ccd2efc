package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/tarancss/chatrelay/lib/block"
	"github.com/tarancss/chatrelay/lib/block/types"
	"github.com/tarancss/chatrelay/lib/logging"
)

// AccountNotObserved is returned when a funded account does not show up before the poller times out.
type AccountNotObserved struct {
	Address string
	Elapsed time.Duration
}

func (e *AccountNotObserved) Error() string {
	return fmt.Sprintf("account %s not observed after %v", e.Address, e.Elapsed.Round(time.Millisecond))
}

// Poller waits for an account to become visible on chain, polling every Interval until Timeout.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Await returns the account as soon as one poll finds it. Poll errors count as "not yet". No poll is issued after
// Timeout + Interval.
func (p Poller) Await(ctx context.Context, r block.Reader, addr string) (*types.Account, error) {
	start := time.Now()

	for polls := 1; ; polls++ {
		acc, err := r.GetAccount(ctx, addr)
		if err == nil && acc != nil {
			logging.Log.Debug("[poller] %s visible after %d polls", addr, polls)

			return acc, nil
		}

		if err != nil {
			logging.Log.Debug("[poller] poll %d for %s failed:%v", polls, addr, err)
		}

		elapsed := time.Since(start)
		if elapsed >= p.Timeout {
			return nil, &AccountNotObserved{Address: addr, Elapsed: elapsed}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Interval):
		}
	}
}
