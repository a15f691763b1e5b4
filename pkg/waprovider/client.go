package waprovider

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

	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
)

const (
	defaultTimeout              = 15 * time.Second
	responseBodyReadLimit int64 = 1024
)

// Client talks to the WhatsApp bridge that owns the device connections.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout overrides the request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider base url")
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// SendRequest is an outgoing text or media message.
type SendRequest struct {
	To              string `json:"to"`
	Content         string `json:"content,omitempty"`
	MediaURL        string `json:"mediaUrl,omitempty"`
	MimeType        string `json:"mimeType,omitempty"`
	Caption         string `json:"caption,omitempty"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

func (c *Client) Start(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "start"), nil, nil)
}

func (c *Client) Stop(ctx context.Context, sessionID string, logout bool) error {
	return c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "stop"), map[string]bool{"logout": logout}, nil)
}

// SendMessage returns the provider message id of the sent message.
func (c *Client) SendMessage(ctx context.Context, sessionID string, req SendRequest) (string, error) {
	var resp struct {
		MessageID string `json:"messageId"`
	}
	if err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "messages"), req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *Client) ReadMessages(ctx context.Context, sessionID, chatID string, messageIDs []string) error {
	body := map[string][]string{"messageIds": messageIDs}
	return c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "chats", chatID, "read"), body, nil)
}

func (c *Client) EditMessage(ctx context.Context, sessionID, chatID, messageID, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPatch, c.sessionPath(sessionID, "chats", chatID, "messages", messageID), body, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, sessionID, chatID, messageID string, forEveryone bool) error {
	path := c.sessionPath(sessionID, "chats", chatID, "messages", messageID)
	if forEveryone {
		path += "?forEveryone=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ReactMessage sets the reaction; an empty emoji removes it.
func (c *Client) ReactMessage(ctx context.Context, sessionID, chatID, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	return c.do(ctx, http.MethodPut, c.sessionPath(sessionID, "chats", chatID, "messages", messageID, "reaction"), body, nil)
}

// Destroy drops the session and its device credentials on the bridge.
func (c *Client) Destroy(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(sessionID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "provider client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal provider request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build provider request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute provider request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		code := pkgerrors.CodeDependency
		if resp.StatusCode == http.StatusNotFound {
			code = pkgerrors.CodeNotFound
		}
		return pkgerrors.Wrap(code, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("provider %s %s failed", method, path))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode provider response")
	}
	return nil
}

func (c *Client) sessionPath(sessionID string, parts ...string) string {
	segments := []string{"sessions", url.PathEscape(sessionID)}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return "/" + strings.Join(segments, "/")
}
