// Package analytics records API page views in the store and forwards them to a GA4 measurement protocol endpoint.
// Recording never delays or fails the request being tracked.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarancss/chatrelay/lib/config"
	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/lib/store"
)

const (
	timeout  = 5 * time.Second
	maxPeek  = 1 << 20
	guest    = "guest"
	pageView = "page_view"
)

type event struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
}

type payload struct {
	ClientID string  `json:"client_id"`
	Events   []event `json:"events"`
}

// Forwarder tracks page views in the background.
type Forwarder struct {
	db  store.DB
	cfg config.AnalyticsConfig
	hc  *http.Client
	wg  sync.WaitGroup
}

// New returns a Forwarder storing events in db. Events are only forwarded when cfg has a measurement id.
func New(db store.DB, cfg config.AnalyticsConfig) *Forwarder {
	return &Forwarder{db: db, cfg: cfg, hc: &http.Client{Timeout: timeout}}
}

// Track records a view of route by meta, which may be empty for anonymous callers.
func (f *Forwarder) Track(route, method, meta string) {
	if meta == "" {
		meta = guest
	}

	e := store.AnalyticsEvent{Route: route, Method: method, UserMeta: meta, Timestamp: time.Now().UTC()}

	f.wg.Add(1)

	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := f.db.AddAnalytics(ctx, e); err != nil {
			logging.Log.Debug("[analytics] storing %s %s: %v", method, route, err)
		}

		if err := f.forward(ctx, route); err != nil {
			logging.Log.Debug("[analytics] forwarding %s: %v", route, err)
		}
	}()
}

func (f *Forwarder) forward(ctx context.Context, route string) error {
	if f.cfg.MeasurementID == "" {
		return nil
	}

	body, err := json.Marshal(payload{
		ClientID: uuid.NewString(),
		Events:   []event{{Name: pageView, Params: map[string]string{"page_path": route}}},
	})
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("measurement_id", f.cfg.MeasurementID)
	q.Set("api_secret", f.cfg.APISecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := f.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("collector returned %s", resp.Status)
	}

	return nil
}

// Wait blocks until every tracked event has been handled.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

// Middleware tracks every request passing through it. The caller is read from the meta_account field of JSON
// bodies; the body is restored for the next handler.
func (f *Forwarder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.Track(r.URL.Path, r.Method, peekMeta(r))
		next.ServeHTTP(w, r)
	})
}

func peekMeta(r *http.Request) string {
	if r.Body == nil || r.Method == http.MethodGet {
		return ""
	}

	body := r.Body
	raw, err := io.ReadAll(io.LimitReader(body, maxPeek))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), body), body}

	if err != nil {
		return ""
	}

	var b struct {
		MetaAccount string `json:"meta_account"`
	}

	_ = json.Unmarshal(raw, &b)

	return b.MetaAccount
}
