// Package feed is the client side of the upstream recording platform's
// session query API.
package feed

import (
	"context"
	"encoding/json"
	"time"
)

// Query selects one page of sessions ordered by increasing time.
type Query struct {
	From   time.Time
	To     time.Time
	Offset int
	Limit  int
}

// Page is one upstream response. Success=false carries the upstream reason in
// Error; InvalidSession marks an expired or revoked upstream login.
type Page struct {
	Success        bool
	Sessions       []json.RawMessage
	Error          string
	InvalidSession bool
}

type SessionFeed interface {
	FetchSessions(ctx context.Context, q Query) (Page, error)
}
