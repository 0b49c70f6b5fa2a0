// Package api talks to the chat server's REST endpoints: session token
// retrieval and user/friend lookups. Every response carries a success flag;
// success=false is a recoverable APIError to surface to the user, never a
// fatal condition.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// APIError carries the server's display message for a success=false response.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "request rejected"
	}
	return e.Message
}

// User is a chat participant profile.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Client is the REST collaborator.
type Client struct {
	base   string
	http   *http.Client
	tokens interface{ Token() (string, error) }
	logger *zap.Logger
}

// NewClient creates a REST client against the given base URL.
func NewClient(base string, tokens interface{ Token() (string, error) }, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 15 * time.Second},
		tokens: tokens,
		logger: logger,
	}
}

// SessionToken exchanges stored credentials for a fresh session token.
func (c *Client) SessionToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.get(ctx, "/auth/session", nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// Friends fetches the caller's friend list.
func (c *Client) Friends(ctx context.Context) ([]User, error) {
	var out struct {
		Friends []User `json:"friends"`
	}
	if err := c.get(ctx, "/users/friends", nil, &out); err != nil {
		return nil, err
	}
	return out.Friends, nil
}

// UserByID looks a user up by id.
func (c *Client) UserByID(ctx context.Context, id string) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.get(ctx, "/users/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// UserByUsername looks a user up by username.
func (c *Client) UserByUsername(ctx context.Context, username string) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	q := url.Values{"username": {username}}
	if err := c.get(ctx, "/users/lookup", q, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Me returns the logged-in user's own profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.get(ctx, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token, err := c.tokens.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	data := json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !envelope.Success {
		c.logger.Warn("api request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", envelope.Message))
		return &APIError{Message: envelope.Message}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}
