package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/lock"
)

const defaultHeartbeatTimeout = 5 * time.Second

// StatusError is an HTTP failure with no matching sentinel error.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client speaks the session protocol to a remote server. It satisfies the
// Page Guard's Session and Credentials and broadcast.Subscriber.
//
// A successful VerifyPassword or SetPassword leaves a grant in the client;
// the next UnlockGranted spends it.
type Client struct {
	base             string
	http             *http.Client
	dialer           *websocket.Dialer
	token            string
	logger           *slog.Logger
	heartbeatTimeout time.Duration

	mu    sync.Mutex
	grant string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClientToken sends the shared token with every request.
func WithClientToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a Client for the API mounted at baseURL, for example
// "http://127.0.0.1:8750/api/v1".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base:             strings.TrimRight(baseURL, "/"),
		http:             http.DefaultClient,
		dialer:           websocket.DefaultDialer,
		logger:           slog.Default(),
		heartbeatTimeout: defaultHeartbeatTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", lock.ErrNoResponse, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e ErrorResponse
	json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&e)
	if sentinel, ok := codeErrors[e.Code]; ok {
		return fmt.Errorf("%w (http %d)", sentinel, resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
}

func (c *Client) setGrant(grant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grant = grant
}

func (c *Client) takeGrant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.grant
	c.grant = ""
	return g
}

// QueryLockStatus asks the server whether the session is unlocked.
func (c *Client) QueryLockStatus(ctx context.Context) (bool, error) {
	var out SessionResponse
	if err := c.do(ctx, http.MethodGet, "/session", nil, &out); err != nil {
		return false, err
	}
	return out.IsUnlocked, nil
}

// UnlockGranted spends the grant from the last successful password check.
func (c *Client) UnlockGranted(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/session/unlock", UnlockRequest{Grant: c.takeGrant()}, nil)
}

// LockRequested locks the session.
func (c *Client) LockRequested(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/session/lock", nil, nil)
}

// ResetAuthorized asks every page to show the reset view. The server only
// accepts it after a verified reset.
func (c *Client) ResetAuthorized(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/session/reset", nil, nil)
}

// Heartbeat sends a heartbeat in the background and never blocks.
func (c *Client) Heartbeat(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.heartbeatTimeout)
		defer cancel()
		if err := c.do(ctx, http.MethodPost, "/session/heartbeat", nil, nil); err != nil {
			c.logger.Debug("heartbeat failed", "error", err)
		}
	}()
}

// HasCredential reports whether a password exists on the server.
func (c *Client) HasCredential(ctx context.Context) (bool, error) {
	var out CredentialStatusResponse
	if err := c.do(ctx, http.MethodGet, "/credential", nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// VerifyPassword checks password on the server.
func (c *Client) VerifyPassword(ctx context.Context, password []byte) (bool, error) {
	var out VerifyCredentialResponse
	if err := c.do(ctx, http.MethodPost, "/credential/verify", PasswordRequest{Password: string(password)}, &out); err != nil {
		return false, err
	}
	if out.Match {
		c.setGrant(out.Grant)
	}
	return out.Match, nil
}

// SetPassword stores password on the server. When the server answers with
// a grant the next UnlockGranted spends it.
func (c *Client) SetPassword(ctx context.Context, password []byte) error {
	var out PutCredentialResponse
	if err := c.do(ctx, http.MethodPut, "/credential", PasswordRequest{Password: string(password)}, &out); err != nil {
		return err
	}
	c.setGrant(out.Grant)
	return nil
}

// Settings returns the server's settings.
func (c *Client) Settings(ctx context.Context) (lock.Settings, error) {
	var out lock.Settings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &out)
	return out, err
}

// PutSettings replaces the server's settings.
func (c *Client) PutSettings(ctx context.Context, settings lock.Settings) error {
	return c.do(ctx, http.MethodPut, "/settings", settings, nil)
}

// Subscribe opens the event stream. The channel closes when ctx is done or
// the connection drops.
func (c *Client) Subscribe(ctx context.Context) (<-chan broadcast.Event, error) {
	u, err := url.Parse(c.base + "/events")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing events: %w", lock.ErrNoResponse, err)
	}

	out := make(chan broadcast.Event, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(done)
		for {
			var ev broadcast.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("event stream closed", "error", err)
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
