// Package client is a Go SDK for the assetdesk HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/chat"
	"assetdesk/pkg/models"
)

// Identity is how the client names its end user. Set UserID alone with a
// backend key, UserID with Signature with a frontend key, or Token.
type Identity struct {
	UserID    string
	Signature string
	Token     string
}

// Client talks to one server with one API key and identity.
type Client struct {
	base     string
	apiKey   string
	identity Identity
	hc       *http.Client
}

// Option tunes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithIdentity sets the end-user identity sent with every request.
func WithIdentity(id Identity) Option {
	return func(c *Client) { c.identity = id }
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		hc:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%d: %s (%s)", e.Status, e.Message, e.Field)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body interface{}) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		if raw, ok := body.(json.RawMessage); ok {
			rd = bytes.NewReader(raw)
		} else {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, errors.Wrap(err, "encode request")
			}
			rd = bytes.NewReader(b)
		}
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	switch {
	case c.identity.Token != "":
		req.Header.Set("X-User-Token", c.identity.Token)
	case c.identity.UserID != "":
		req.Header.Set("X-User-ID", c.identity.UserID)
		if c.identity.Signature != "" {
			req.Header.Set("X-User-Signature", c.identity.Signature)
		}
	}
	return req, nil
}

// do sends the request and decodes a 2xx JSON body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(b, e) != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(b))
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
	}
	return e
}

// EnsureUser resolves the caller to a user record, creating it on first use.
func (c *Client) EnsureUser(ctx context.Context) (models.User, error) {
	var out struct {
		User models.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/users/ensure", nil, nil, &out)
	return out.User, err
}

func (c *Client) ListThreads(ctx context.Context) ([]models.Thread, error) {
	var out struct {
		Threads []models.Thread `json:"threads"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/threads", nil, nil, &out)
	return out.Threads, err
}

func (c *Client) CreateThread(ctx context.Context, title string) (models.Thread, error) {
	var th models.Thread
	err := c.do(ctx, http.MethodPost, "/v1/threads", nil, map[string]string{"title": title}, &th)
	return th, err
}

func (c *Client) GetThread(ctx context.Context, threadID string) (models.Thread, error) {
	var th models.Thread
	err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID), nil, nil, &th)
	return th, err
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/threads/"+url.PathEscape(threadID), nil, nil, nil)
}

// Send submits a prompt. An empty ThreadID starts a new thread.
func (c *Client) Send(ctx context.Context, req chat.SendRequest) (chat.SendResult, error) {
	var out chat.SendResult
	err := c.do(ctx, http.MethodPost, "/v1/chat/send", nil, req, &out)
	return out, err
}

// MessagesQuery pages messages. Stream, when set, also fetches that
// prompt's deltas from StreamCursor on.
type MessagesQuery struct {
	After        uint64
	Limit        int
	Stream       string
	StreamCursor uint64
}

// MessagePage is one page of messages plus optional delta sync.
type MessagePage struct {
	Messages     []models.Message `json:"messages"`
	Next         uint64           `json:"next"`
	Deltas       []models.Delta   `json:"deltas,omitempty"`
	StreamCursor *uint64          `json:"stream_cursor,omitempty"`
}

func (c *Client) Messages(ctx context.Context, threadID string, mq MessagesQuery) (MessagePage, error) {
	q := url.Values{}
	if mq.After > 0 {
		q.Set("after", strconv.FormatUint(mq.After, 10))
	}
	if mq.Limit > 0 {
		q.Set("limit", strconv.Itoa(mq.Limit))
	}
	if mq.Stream != "" {
		q.Set("stream", mq.Stream)
		q.Set("stream_cursor", strconv.FormatUint(mq.StreamCursor, 10))
	}
	var page MessagePage
	err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/messages", q, nil, &page)
	return page, err
}

// LastModel returns the model of the thread's latest answer, or "".
func (c *Client) LastModel(ctx context.Context, threadID string) (string, error) {
	var out struct {
		ModelID string `json:"modelId"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/last-model", nil, nil, &out)
	return out.ModelID, err
}

// Models returns the enabled model ids.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var e struct {
		Value json.RawMessage `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/config/openrouter_models", nil, nil, &e); err != nil {
		return nil, err
	}
	var ids []string
	if len(e.Value) > 0 {
		if err := json.Unmarshal(e.Value, &ids); err != nil {
			return nil, errors.Wrap(err, "decode model list")
		}
	}
	return ids, nil
}

// InvokeTool runs one tool inside the thread. Args may be nil.
func (c *Client) InvokeTool(ctx context.Context, threadID, tool string, args json.RawMessage, modelID string) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	q := url.Values{}
	if modelID != "" {
		q.Set("modelId", modelID)
	}
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/tools/"+url.PathEscape(tool), q, args, &out)
	return out.Result, err
}

// AllMessages pages through the whole thread.
func (c *Client) AllMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	var out []models.Message
	var after uint64
	for {
		page, err := c.Messages(ctx, threadID, MessagesQuery{After: after, Limit: 200})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Messages...)
		if page.Next == 0 {
			return out, nil
		}
		after = page.Next
	}
}
