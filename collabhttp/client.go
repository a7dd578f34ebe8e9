// Package collabhttp provides HTTP clients for the external collaborators
// the conflict engine consumes: the version store, the edit-session store,
// the structural change log, the merge-base store, and the
// override-permission service.
package collabhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/c0deZ3R0/collab-kit/conflict"
	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/logging"
	"github.com/c0deZ3R0/collab-kit/resolve"
)

const maxResponseBytes = 8 << 20 // 8MB

// Client talks to the collaboration backend. It implements the detector's
// VersionStore, SessionStore, and ChangeLog collaborators plus the
// resolver's BaseVersionStore and PermissionChecker.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

var (
	_ conflict.VersionStore     = (*Client)(nil)
	_ conflict.SessionStore     = (*Client)(nil)
	_ conflict.ChangeLog        = (*Client)(nil)
	_ resolve.BaseVersionStore  = (*Client)(nil)
	_ resolve.PermissionChecker = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient constructs a Client against the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("collabhttp")
	return c
}

// GetVersion fetches the authoritative version of a (page, contentKey)
// pair. A 404 means no version exists yet and returns (nil, nil).
func (c *Client) GetVersion(ctx context.Context, pageName, contentKey string) (*conflict.VersionInfo, error) {
	const op = kiterr.Op("collabhttp.GetVersion")

	q := url.Values{}
	q.Set("page", pageName)
	q.Set("key", contentKey)

	var info conflict.VersionInfo
	found, err := c.getJSON(ctx, op, "/content/version?"+q.Encode(), &info)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &info, nil
}

// ActiveSessions lists edit sessions on a (page, contentKey) pair other
// than the caller's own.
func (c *Client) ActiveSessions(ctx context.Context, pageName, contentKey, excludeSession string) ([]conflict.EditSession, error) {
	const op = kiterr.Op("collabhttp.ActiveSessions")

	req := struct {
		PageName       string `json:"pageName"`
		ContentKey     string `json:"contentKey"`
		ExcludeSession string `json:"excludeSession,omitempty"`
	}{pageName, contentKey, excludeSession}

	var sessions []conflict.EditSession
	if err := c.postJSON(ctx, op, "/edit-sessions/active", req, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecentChanges lists structural changes to a component since the given
// time.
func (c *Client) RecentChanges(ctx context.Context, pageName, componentID string, since time.Time) ([]conflict.Change, error) {
	const op = kiterr.Op("collabhttp.RecentChanges")

	q := url.Values{}
	q.Set("page", pageName)
	q.Set("componentId", componentID)
	q.Set("since", since.UTC().Format(time.RFC3339Nano))

	var changes []conflict.Change
	found, err := c.getJSON(ctx, op, "/structure/recent-changes?"+q.Encode(), &changes)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return changes, nil
}

// BaseVersion fetches the common-ancestor value for a three-way merge.
func (c *Client) BaseVersion(ctx context.Context, pageName, contentKey string) (interface{}, error) {
	const op = kiterr.Op("collabhttp.BaseVersion")

	req := struct {
		PageName   string `json:"pageName"`
		ContentKey string `json:"contentKey"`
	}{pageName, contentKey}

	var resp struct {
		BaseVersion interface{} `json:"baseVersion"`
	}
	if err := c.postJSON(ctx, op, "/content/base-version", req, &resp); err != nil {
		return nil, err
	}
	return resp.BaseVersion, nil
}

// CanOverride asks the permission service whether a user may force their
// local version over remote changes.
func (c *Client) CanOverride(ctx context.Context, item conflict.Item, userID string) (bool, error) {
	const op = kiterr.Op("collabhttp.CanOverride")

	req := struct {
		PageName    string `json:"pageName"`
		ComponentID string `json:"componentId"`
		ContentKey  string `json:"contentKey,omitempty"`
		UserID      string `json:"userId"`
	}{item.PageName, item.ComponentID, item.ContentKey, userID}

	var resp struct {
		CanOverride bool `json:"canOverride"`
	}
	if err := c.postJSON(ctx, op, "/permissions/validate-override", req, &resp); err != nil {
		return false, err
	}
	return resp.CanOverride, nil
}

// getJSON performs a GET and decodes the body into out. The bool result is
// false when the server returned 404.
func (c *Client) getJSON(ctx context.Context, op kiterr.Op, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, kiterr.NewValidationError(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, kiterr.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := c.checkStatus(op, resp); err != nil {
		return false, err
	}
	if err := decodeBody(resp.Body, out); err != nil {
		return false, kiterr.NewValidationError(op, err)
	}
	return true, nil
}

func (c *Client) postJSON(ctx context.Context, op kiterr.Op, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return kiterr.NewValidationError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return kiterr.NewValidationError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return kiterr.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(op, resp); err != nil {
		return err
	}
	if err := decodeBody(resp.Body, out); err != nil {
		return kiterr.NewValidationError(op, err)
	}
	return nil
}

func (c *Client) checkStatus(op kiterr.Op, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, resp.Request.URL.Path, snippet)
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return kiterr.NewPermissionError(op, err)
	}
	if resp.StatusCode >= 500 {
		return kiterr.NewNetworkError(op, err)
	}
	return kiterr.NewValidationError(op, err)
}

func decodeBody(r io.Reader, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r, maxResponseBytes))
	return dec.Decode(out)
}
