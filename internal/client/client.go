// Package client talks to a running inbox daemon over HTTP. It implements
// the service interfaces the conversation list and thread streams consume,
// so the same engine runs against a local or remote daemon.
package client

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
	"time"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/signature"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/thread"
)

// Error is a non-2xx reply from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 reply.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}

// Client is an HTTP client of the daemon API.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// New creates a client for the daemon at base, e.g. "http://127.0.0.1:7420".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Base returns the daemon base URL.
func (c *Client) Base() string { return c.base }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &Error{Status: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &Error{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func conversationPath(id string, rest ...string) string {
	return "/v1/conversations/" + url.PathEscape(id) + strings.Join(rest, "")
}

// List implements conversations.QueryService.
func (c *Client) List(ctx context.Context, q filter.Descriptor) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := c.do(ctx, http.MethodGet, "/v1/conversations", q.Values(), nil, &convs)
	return convs, err
}

// Counts implements conversations.QueryService.
func (c *Client) Counts(ctx context.Context) (model.Counters, error) {
	var counters model.Counters
	err := c.do(ctx, http.MethodGet, "/v1/conversations/counts", nil, nil, &counters)
	return counters, err
}

func (c *Client) Conversation(ctx context.Context, id string) (model.Conversation, error) {
	var conv model.Conversation
	err := c.do(ctx, http.MethodGet, conversationPath(id), nil, nil, &conv)
	return conv, err
}

// History adapts the client to thread.HistoryService, whose List has a
// different shape than the conversation list's.
type History struct{ c *Client }

func (c *Client) History() History { return History{c: c} }

func (h History) List(ctx context.Context, conversationID string, p thread.Page) ([]model.Message, error) {
	return h.c.Messages(ctx, conversationID, p)
}

func (c *Client) Messages(ctx context.Context, conversationID string, p thread.Page) ([]model.Message, error) {
	q := url.Values{}
	if !p.Before.IsZero() {
		q.Set("before", p.Before.UTC().Format(time.RFC3339Nano))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	var msgs []model.Message
	err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "/messages"), q, nil, &msgs)
	return msgs, err
}

// Send implements thread.SendService.
func (c *Client) Send(ctx context.Context, req thread.SendRequest) (model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodPost, conversationPath(req.ConversationID, "/messages"), nil, req, &m)
	return m, err
}

// MarkRead implements thread.ReadMarker.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), nil, nil, nil)
}

func (c *Client) Act(ctx context.Context, conversationID string, a store.Action) (model.Conversation, error) {
	var conv model.Conversation
	err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/actions"), nil, a, &conv)
	return conv, err
}

func (c *Client) Search(ctx context.Context, text, conversationID string, limit int) ([]model.Message, error) {
	q := url.Values{"q": {text}}
	if conversationID != "" {
		q.Set("conversation_id", conversationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var msgs []model.Message
	err := c.do(ctx, http.MethodGet, "/v1/search", q, nil, &msgs)
	return msgs, err
}

func (c *Client) Signatures(ctx context.Context) ([]signature.Template, error) {
	var ts []signature.Template
	err := c.do(ctx, http.MethodGet, "/v1/signatures", nil, nil, &ts)
	return ts, err
}

func (c *Client) SaveSignature(ctx context.Context, t signature.Template, position int) error {
	body := map[string]any{
		"name": t.Name, "scope": t.Scope, "variant": t.Variant,
		"active": t.Active, "default": t.Default, "body": t.Body,
		"links": t.Links, "logo_url": t.LogoURL, "position": position,
	}
	return c.do(ctx, http.MethodPut, "/v1/signatures/"+url.PathEscape(t.ID), nil, body, nil)
}

func (c *Client) DeleteSignature(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/signatures/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Status(ctx context.Context) (api.Status, error) {
	var st api.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, nil, &st)
	return st, err
}
