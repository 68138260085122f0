package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/aetherhome/aether/pkg/logger"
)

const (
	DefaultRefreshPath = "/api/token/refresh/"
	DefaultLoginPath   = "/api/token/"

	refreshTimeout = 30 * time.Second
)

// TokenStore is the persistent home of the bearer and refresh tokens.
// Getters return "" with a nil error when nothing is stored.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, access, refresh string) error
	SetAccessToken(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

// Client talks JSON to the Aether API. Every authenticated call goes through
// the same bearer/refresh policy: a 401 triggers one token refresh and the
// request is retried once.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenStore
	refreshPath string
	loginPath   string
	refreshes   singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on a copy of the current http.Client,
// so a client passed to WithHTTPClient is left as it was.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

func WithRefreshPath(path string) Option {
	return func(c *Client) { c.refreshPath = path }
}

func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens:      tokens,
		refreshPath: DefaultRefreshPath,
		loginPath:   DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get sends an authenticated GET. params, when non-nil, is encoded with
// go-querystring `url` tags.
func (c *Client) Get(ctx context.Context, path string, params any, out any) error {
	var q url.Values
	if params != nil {
		v, err := query.Values(params)
		if err != nil {
			return fmt.Errorf("encode query: %w", err)
		}
		q = v
	}
	return c.do(ctx, http.MethodGet, path, q, nil, out, true)
}

// Post sends an authenticated JSON POST.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out, true)
}

// PostPublic sends a JSON POST without credentials.
func (c *Client) PostPublic(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out, false)
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges owner credentials for a token pair and stores both tokens.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var pair tokenPair
	body := map[string]string{"username": username, "password": password}
	if err := c.PostPublic(ctx, c.loginPath, body, &pair); err != nil {
		return err
	}
	if pair.Access == "" {
		return fmt.Errorf("login: response carried no access token")
	}
	return c.tokens.SetTokens(ctx, pair.Access, pair.Refresh)
}

// Logout forgets both tokens.
func (c *Client) Logout(ctx context.Context) error {
	return c.tokens.Clear(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any, authed bool) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = b
	}

	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var token string
	if authed {
		t, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("read access token: %w", err)
		}
		if t == "" {
			logger.WarnContext(ctx, "No access token stored", "path", path)
			return ErrNoCredentials
		}
		token = t
	}

	resp, err := c.send(ctx, method, target, payload, token)
	if err != nil {
		return err
	}

	if authed && resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		logger.InfoContext(ctx, "Access token rejected, refreshing", "path", path)

		fresh, err := c.refresh(ctx, token)
		if err != nil {
			return err
		}
		resp, err = c.send(ctx, method, target, payload, fresh)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	return decode(resp, method, path, out)
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	requestID, _ := ctx.Value(logger.RequestIDKey).(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	logger.DebugContext(ctx, "Sending request", "method", method, "url", target, "request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// refresh swaps the refresh token for a new access token. Concurrent callers
// holding the same stale token share one refresh round trip. The round trip
// is detached from ctx: a caller that gives up stops waiting but does not
// fail the others.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		current, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return "", fmt.Errorf("read access token: %w", err)
		}
		if current != "" && current != stale {
			return current, nil
		}

		refreshToken, err := c.tokens.RefreshToken(ctx)
		if err != nil {
			return "", fmt.Errorf("read refresh token: %w", err)
		}
		if refreshToken == "" {
			return "", c.expire(ctx, "no refresh token stored")
		}

		payload, err := json.Marshal(map[string]string{"refresh": refreshToken})
		if err != nil {
			return "", err
		}
		resp, err := c.send(ctx, http.MethodPost, c.baseURL+c.refreshPath, payload, "")
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		var pair tokenPair
		if err := decode(resp, http.MethodPost, c.refreshPath, &pair); err != nil || pair.Access == "" {
			logger.WarnContext(ctx, "Token refresh failed", "error", err)
			return "", c.expire(ctx, "refresh rejected")
		}

		if pair.Refresh != "" {
			err = c.tokens.SetTokens(ctx, pair.Access, pair.Refresh)
		} else {
			err = c.tokens.SetAccessToken(ctx, pair.Access)
		}
		if err != nil {
			return "", fmt.Errorf("store refreshed token: %w", err)
		}
		return pair.Access, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) expire(ctx context.Context, reason string) error {
	logger.WarnContext(ctx, "Session expired. Please log in again.", "reason", reason)
	if err := c.tokens.Clear(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to clear tokens", "error", err)
	}
	return ErrSessionExpired
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func decode(resp *http.Response, method, path string, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			se.Code = eb.Code
			se.Message = firstNonEmpty(eb.Error, eb.Detail, eb.Message)
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return se
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
