package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"callsync/internal/config"
	"callsync/internal/metrics"
	"callsync/internal/normalize"
)

var ErrInvalidSession = errors.New("upstream session invalid")

const (
	loginPath    = "/api/v1/auth/login"
	sessionsPath = "/api/v1/sessions"
	maxBodyBytes = 32 << 20
	tokenRenewal = 2 * time.Minute
)

// Client talks to the recording platform. It logs in with an API key, keeps
// the bearer token fresh and recovers once from an invalid session per call.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Limiter *rate.Limiter

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func NewClient(cfg config.UpstreamConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (c *Client) Login(ctx context.Context) error {
	base := c.base()
	if base == "" {
		return errors.New("upstream base url is empty")
	}
	apiKey := strings.TrimSpace(c.APIKey)
	if apiKey == "" {
		return errors.New("upstream api key is empty")
	}

	body, _ := json.Marshal(map[string]any{"api_key": apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+loginPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream login http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var lr loginResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return err
	}
	if strings.TrimSpace(lr.Token) == "" {
		return errors.New("upstream login returned empty token")
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(lr.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// EnsureToken logs in when there is no token or it expires within two
// minutes.
func (c *Client) EnsureToken(ctx context.Context) error {
	c.mu.RLock()
	tok := c.token
	exp := c.expiresAt
	c.mu.RUnlock()
	if strings.TrimSpace(tok) == "" {
		return c.Login(ctx)
	}
	if !exp.IsZero() && time.Until(exp) < tokenRenewal {
		return c.Login(ctx)
	}
	return nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// FetchSessions returns one page. Transport and HTTP errors come back as err
// with a failed Page; an invalid session is retried once after a fresh login.
func (c *Client) FetchSessions(ctx context.Context, q Query) (Page, error) {
	if err := c.EnsureToken(ctx); err != nil {
		metrics.UpstreamRequests.WithLabelValues("login_error").Inc()
		return Page{Error: err.Error()}, fmt.Errorf("upstream login: %w", err)
	}
	page, err := c.fetch(ctx, q)
	if !page.InvalidSession {
		return page, err
	}
	metrics.UpstreamRequests.WithLabelValues("invalid_session").Inc()
	c.invalidate()
	if err := c.Login(ctx); err != nil {
		return Page{Error: err.Error(), InvalidSession: true}, fmt.Errorf("upstream relogin: %w", err)
	}
	page, err = c.fetch(ctx, q)
	if page.InvalidSession {
		return page, ErrInvalidSession
	}
	return page, err
}

func (c *Client) fetch(ctx context.Context, q Query) (Page, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return Page{Error: err.Error()}, err
		}
	}
	params := url.Values{}
	params.Set("from", q.From.UTC().Format(time.RFC3339))
	params.Set("to", q.To.UTC().Format(time.RFC3339))
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("limit", strconv.Itoa(q.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+sessionsPath+"?"+params.Encode(), nil)
	if err != nil {
		return Page{Error: err.Error()}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("transport_error").Inc()
		return Page{Error: err.Error()}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("transport_error").Inc()
		return Page{Error: err.Error()}, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return Page{Error: "unauthorized", InvalidSession: true}, ErrInvalidSession
	}
	status := parseStatus(body)
	if status.invalidSession {
		return Page{Error: status.message, InvalidSession: true}, ErrInvalidSession
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequests.WithLabelValues("http_error").Inc()
		msg := status.message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return Page{Error: msg}, fmt.Errorf("upstream sessions http %d: %s", resp.StatusCode, msg)
	}
	if status.failed {
		metrics.UpstreamRequests.WithLabelValues("rejected").Inc()
		return Page{Error: status.message}, nil
	}

	sessions, err := normalize.ExtractSessions(body)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("decode_error").Inc()
		return Page{Error: err.Error()}, err
	}
	metrics.UpstreamRequests.WithLabelValues("ok").Inc()
	return Page{Success: true, Sessions: sessions}, nil
}

type responseStatus struct {
	failed         bool
	invalidSession bool
	message        string
}

// parseStatus reads the upstream's optional status envelope:
// {"success":false,"error":{"code":"invalid_session","message":"..."}} or
// {"success":false,"error":"invalid_session"}.
func parseStatus(body []byte) responseStatus {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return responseStatus{}
	}
	var probe struct {
		Success *bool           `json:"success"`
		Error   json.RawMessage `json:"error"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return responseStatus{}
	}
	var st responseStatus
	code := probe.Code
	st.message = probe.Message
	if len(probe.Error) > 0 && string(probe.Error) != "null" {
		var asString string
		var asObject struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(probe.Error, &asString) == nil:
			if asString = strings.TrimSpace(asString); asString != "" {
				st.failed = true
				if code == "" {
					code = asString
				}
				if st.message == "" {
					st.message = asString
				}
			}
		case json.Unmarshal(probe.Error, &asObject) == nil:
			st.failed = true
			if asObject.Code != "" {
				code = asObject.Code
			}
			if asObject.Message != "" {
				st.message = asObject.Message
			}
		}
	}
	if probe.Success != nil && !*probe.Success {
		st.failed = true
	}
	if strings.EqualFold(strings.TrimSpace(code), "invalid_session") {
		st.invalidSession = true
	}
	if st.failed && st.message == "" {
		st.message = "upstream reported failure"
	}
	return st
}

func (c *Client) base() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

var _ SessionFeed = (*Client)(nil)
