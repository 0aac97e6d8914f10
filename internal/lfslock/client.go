package lfslock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thiagokokada/gitk-sync/internal/buildinfo"
)

const mediaType = "application/vnd.git-lfs+json"

// DefaultPageSize is used when neither the request nor the config sets a
// verify page size.
const DefaultPageSize = 100

// ErrNoCredential is returned by Acquire and Release when no access token
// is configured.
var ErrNoCredential = errors.New("no access token configured")

// CredentialSource supplies the access token for lock calls.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialSource for a fixed token. The empty token
// reports ErrNoCredential.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

type Owner struct {
	Name string `json:"name" yaml:"name"`
}

type Lock struct {
	ID          string    `json:"id" yaml:"id"`
	Path        string    `json:"path" yaml:"path"`
	LockedAt    time.Time `json:"locked_at" yaml:"locked_at"`
	Owner       *Owner    `json:"owner,omitempty" yaml:"owner,omitempty"`
	DisplayName string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
}

// Failure is a path a batch call could not process.
type Failure struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// BatchResult lists the paths processed successfully next to the failures.
type BatchResult struct {
	Paths    []string  `json:"paths" yaml:"paths"`
	Failures []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// OK reports whether every path succeeded.
func (r BatchResult) OK() bool { return len(r.Failures) == 0 }

type VerifyRequest struct {
	// Cursor continues a previous page; empty starts from the first page.
	Cursor string
	Limit  int
	Ref    string
}

type VerifyResponse struct {
	Ours       []Lock `json:"ours" yaml:"ours"`
	Theirs     []Lock `json:"theirs" yaml:"theirs"`
	NextCursor string `json:"next_cursor,omitempty" yaml:"next_cursor,omitempty"`
}

type Config struct {
	Endpoint    string
	Credentials CredentialSource
	// Username enables basic auth; otherwise the token is sent as bearer.
	Username string
	// Ref scopes locks to a branch, e.g. "refs/heads/main".
	Ref string
	// DisplayNames maps owner logins to human names. Logins match
	// case-insensitively.
	DisplayNames map[string]string
	PageSize     int
	HTTPClient   *http.Client
	UserAgent    string
}

// Client talks to the Git LFS file locking API.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("lfs endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid lfs endpoint: %w", err)
	}
	if cfg.Credentials == nil {
		cfg.Credentials = StaticToken("")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = buildinfo.UserAgent()
	}
	if len(cfg.DisplayNames) > 0 {
		names := make(map[string]string, len(cfg.DisplayNames))
		for login, name := range cfg.DisplayNames {
			names[strings.ToLower(login)] = name
		}
		cfg.DisplayNames = names
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

type apiRef struct {
	Name string `json:"name"`
}

type createRequest struct {
	Path string  `json:"path"`
	Ref  *apiRef `json:"ref,omitempty"`
}

type unlockRequest struct {
	Force bool    `json:"force"`
	Ref   *apiRef `json:"ref,omitempty"`
}

type verifyRequest struct {
	Cursor string  `json:"cursor,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Ref    *apiRef `json:"ref,omitempty"`
}

type lockResponse struct {
	Lock    *Lock  `json:"lock"`
	Message string `json:"message"`
}

type listResponse struct {
	Locks      []Lock `json:"locks"`
	NextCursor string `json:"next_cursor"`
	Message    string `json:"message"`
}

type verifyResponse struct {
	Ours       []Lock `json:"ours"`
	Theirs     []Lock `json:"theirs"`
	NextCursor string `json:"next_cursor"`
	Message    string `json:"message"`
}

// APIError is a non-2xx response from the lock server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lfs lock api: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("lfs lock api: %s: %s", http.StatusText(e.Status), e.Message)
}

func (c *Client) ref(override string) *apiRef {
	name := c.cfg.Ref
	if override != "" {
		name = override
	}
	if name == "" {
		return nil
	}
	return &apiRef{Name: name}
}

// Acquire locks each path. A path failing never prevents the others from
// being attempted.
func (c *Client) Acquire(ctx context.Context, paths []string) (BatchResult, error) {
	token, err := c.cfg.Credentials.Token(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{Paths: []string{}}
	for _, path := range paths {
		var out lockResponse
		status, err := c.do(ctx, token, http.MethodPost, "/locks", createRequest{Path: path, Ref: c.ref("")}, &out)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if err != nil {
			res.Failures = append(res.Failures, Failure{Path: path, Reason: c.reason(status, err, out.Lock)})
			continue
		}
		res.Paths = append(res.Paths, path)
	}
	slog.Debug("lfs locks acquired", slog.Int("ok", len(res.Paths)), slog.Int("failed", len(res.Failures)))
	return res, nil
}

// Release unlocks each path. force removes locks owned by someone else.
func (c *Client) Release(ctx context.Context, paths []string, force bool) (BatchResult, error) {
	token, err := c.cfg.Credentials.Token(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{Paths: []string{}}
	for _, path := range paths {
		lock, err := c.find(ctx, token, path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if err != nil {
			res.Failures = append(res.Failures, Failure{Path: path, Reason: err.Error()})
			continue
		}
		if lock == nil {
			res.Failures = append(res.Failures, Failure{Path: path, Reason: "not locked"})
			continue
		}
		var out lockResponse
		status, err := c.do(ctx, token, http.MethodPost, "/locks/"+url.PathEscape(lock.ID)+"/unlock",
			unlockRequest{Force: force, Ref: c.ref("")}, &out)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if err != nil {
			res.Failures = append(res.Failures, Failure{Path: path, Reason: c.reason(status, err, lock)})
			continue
		}
		res.Paths = append(res.Paths, path)
	}
	slog.Debug("lfs locks released", slog.Bool("force", force), slog.Int("ok", len(res.Paths)), slog.Int("failed", len(res.Failures)))
	return res, nil
}

// List returns the locks on path, or every lock when path is empty.
func (c *Client) List(ctx context.Context, path string) ([]Lock, error) {
	token, err := c.cfg.Credentials.Token(ctx)
	if err != nil && !errors.Is(err, ErrNoCredential) {
		return nil, err
	}
	var all []Lock
	cursor := ""
	for {
		q := url.Values{}
		if path != "" {
			q.Set("path", path)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		q.Set("limit", strconv.Itoa(c.cfg.PageSize))
		if r := c.ref(""); r != nil {
			q.Set("refspec", r.Name)
		}
		var out listResponse
		if _, err := c.do(ctx, token, http.MethodGet, "/locks?"+q.Encode(), nil, &out); err != nil {
			return nil, err
		}
		all = append(all, c.decorate(out.Locks)...)
		if out.NextCursor == "" || out.NextCursor == cursor {
			return all, nil
		}
		cursor = out.NextCursor
	}
}

func (c *Client) find(ctx context.Context, token, path string) (*Lock, error) {
	q := url.Values{"path": {path}}
	if r := c.ref(""); r != nil {
		q.Set("refspec", r.Name)
	}
	var out listResponse
	if _, err := c.do(ctx, token, http.MethodGet, "/locks?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Locks {
		if out.Locks[i].Path == path {
			return &out.Locks[i], nil
		}
	}
	return nil, nil
}

// Verify returns one page of locks split by ownership.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	token, err := c.cfg.Credentials.Token(ctx)
	if err != nil {
		return VerifyResponse{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = c.cfg.PageSize
	}
	var out verifyResponse
	body := verifyRequest{Cursor: req.Cursor, Limit: limit, Ref: c.ref(req.Ref)}
	if _, err := c.do(ctx, token, http.MethodPost, "/locks/verify", body, &out); err != nil {
		return VerifyResponse{}, err
	}
	return VerifyResponse{
		Ours:       c.decorate(out.Ours),
		Theirs:     c.decorate(out.Theirs),
		NextCursor: out.NextCursor,
	}, nil
}

// VerifyAll follows cursors until the server reports no further page.
func (c *Client) VerifyAll(ctx context.Context, ref string) (VerifyResponse, error) {
	var all VerifyResponse
	seen := map[string]bool{}
	cursor := ""
	for {
		page, err := c.Verify(ctx, VerifyRequest{Cursor: cursor, Ref: ref})
		if err != nil {
			return VerifyResponse{}, err
		}
		all.Ours = append(all.Ours, page.Ours...)
		all.Theirs = append(all.Theirs, page.Theirs...)
		if page.NextCursor == "" {
			return all, nil
		}
		if seen[page.NextCursor] {
			return VerifyResponse{}, fmt.Errorf("lfs lock api repeated cursor %q", page.NextCursor)
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

func (c *Client) decorate(locks []Lock) []Lock {
	out := make([]Lock, 0, len(locks))
	for _, l := range locks {
		if l.Owner != nil && l.DisplayName == "" {
			l.DisplayName = c.displayName(l.Owner.Name)
		}
		out = append(out, l)
	}
	return out
}

func (c *Client) displayName(login string) string {
	if name, ok := c.cfg.DisplayNames[strings.ToLower(login)]; ok {
		return name
	}
	return login
}

func (c *Client) reason(status int, err error, lock *Lock) string {
	if status == http.StatusConflict && lock != nil && lock.Owner != nil {
		return "already locked by " + c.displayName(lock.Owner.Name)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// do sends one request and decodes the JSON body into out, also on error
// statuses so callers can inspect conflicting locks.
func (c *Client) do(ctx context.Context, token, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", mediaType)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if token != "" {
		if c.cfg.Username != "" {
			req.SetBasicAuth(c.cfg.Username, token)
		} else {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &msg)
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: msg.Message}
	}
	return resp.StatusCode, nil
}
