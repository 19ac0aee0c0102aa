package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"callsync/internal/config"
)

type fakeUpstream struct {
	logins       atomic.Int32
	fetches      atomic.Int32
	rejectFirstN int32
	body         string
	lastQuery    atomic.Value
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["api_key"] != "key-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		n := f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":      "tok-" + string(rune('0'+n)),
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc(sessionsPath, func(w http.ResponseWriter, r *http.Request) {
		n := f.fetches.Add(1)
		f.lastQuery.Store(r.URL.Query())
		if n <= f.rejectFirstN {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(f.body))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeUpstream) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(config.UpstreamConfig{BaseURL: srv.URL + "/", APIKey: "key-1", Timeout: 5 * time.Second})
}

func TestClientFetchSessions(t *testing.T) {
	f := &fakeUpstream{body: `{"data":{"sessions":[{"id":"a"},{"id":"b"}]}}`}
	c := newTestClient(t, f)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.FetchSessions(context.Background(), Query{From: from, To: from.Add(24 * time.Hour), Offset: 100, Limit: 50})
	if err != nil {
		t.Fatalf("FetchSessions err: %v", err)
	}
	if !page.Success || len(page.Sessions) != 2 {
		t.Fatalf("page=%+v", page)
	}
	if f.logins.Load() != 1 {
		t.Fatalf("logins=%d want 1", f.logins.Load())
	}
	if c.Token() != "tok-1" {
		t.Fatalf("token=%q", c.Token())
	}
	q := f.lastQuery.Load().(url.Values)
	if q["from"][0] != "2024-03-01T00:00:00Z" || q["offset"][0] != "100" || q["limit"][0] != "50" {
		t.Fatalf("query=%v", q)
	}

	if _, err := c.FetchSessions(context.Background(), Query{From: from, To: from, Limit: 1}); err != nil {
		t.Fatalf("second fetch err: %v", err)
	}
	if f.logins.Load() != 1 {
		t.Fatalf("token not reused, logins=%d", f.logins.Load())
	}
}

func TestClientRecoversInvalidSessionOnce(t *testing.T) {
	f := &fakeUpstream{rejectFirstN: 1, body: `[{"id":"a"}]`}
	c := newTestClient(t, f)

	page, err := c.FetchSessions(context.Background(), Query{Limit: 10})
	if err != nil {
		t.Fatalf("FetchSessions err: %v", err)
	}
	if !page.Success || len(page.Sessions) != 1 {
		t.Fatalf("page=%+v", page)
	}
	if f.logins.Load() != 2 || f.fetches.Load() != 2 {
		t.Fatalf("logins=%d fetches=%d want 2/2", f.logins.Load(), f.fetches.Load())
	}
}

func TestClientGivesUpAfterSecondInvalidSession(t *testing.T) {
	f := &fakeUpstream{rejectFirstN: 5}
	c := newTestClient(t, f)

	page, err := c.FetchSessions(context.Background(), Query{Limit: 10})
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err=%v want ErrInvalidSession", err)
	}
	if page.Success || !page.InvalidSession {
		t.Fatalf("page=%+v", page)
	}
	if f.fetches.Load() != 2 {
		t.Fatalf("fetches=%d want 2", f.fetches.Load())
	}
}

func TestClientReportsUpstreamFailure(t *testing.T) {
	f := &fakeUpstream{body: `{"success":false,"error":{"code":"rate_limited","message":"slow down"}}`}
	c := newTestClient(t, f)

	page, err := c.FetchSessions(context.Background(), Query{Limit: 10})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if page.Success || page.Error != "slow down" || page.InvalidSession {
		t.Fatalf("page=%+v", page)
	}
}

func TestParseStatusInvalidSessionString(t *testing.T) {
	st := parseStatus([]byte(`{"success":false,"error":"invalid_session"}`))
	if !st.failed || !st.invalidSession {
		t.Fatalf("status=%+v", st)
	}
	if st := parseStatus([]byte(`{"error":"","data":[]}`)); st.failed {
		t.Fatalf("empty error treated as failure: %+v", st)
	}
}

func TestLoginRequiresConfig(t *testing.T) {
	c := &Client{}
	if err := c.Login(context.Background()); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	c.BaseURL = "http://127.0.0.1:1"
	if err := c.Login(context.Background()); err == nil {
		t.Fatalf("expected error for empty api key")
	}
}
