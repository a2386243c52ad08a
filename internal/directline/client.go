// Package directline implements a polling client for Bot Framework
// Direct Line v3 style conversation endpoints.
package directline

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

	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the public Direct Line v3 base URL.
	DefaultEndpoint = "https://directline.botframework.com/v3/directline"

	// DefaultPollInterval is the wait between polls that returned nothing.
	DefaultPollInterval = time.Second

	defaultUserID   = "user"
	maxResponseBody = 4 << 20
)

// Auth selects how a Client authenticates. It is either StaticSecret or
// ExchangedToken.
type Auth interface {
	isAuth()
}

// StaticSecret uses the secret directly as the bearer credential.
type StaticSecret struct {
	Secret string
}

// ExchangedToken trades the secret for a conversation token on first use.
// The token is cached by the Client for its whole lifetime.
type ExchangedToken struct {
	Secret string
}

func (StaticSecret) isAuth()   {}
func (ExchangedToken) isAuth() {}

// Client talks to a single bot. It owns its token cache, so concurrent runs
// must use separate clients.
type Client struct {
	endpoint     string
	auth         Auth
	httpClient   *http.Client
	pollInterval time.Duration
	userID       string
	limiter      *rate.Limiter

	mu    sync.Mutex
	token string
}

// NewClient creates a client for the given endpoint. An empty endpoint
// selects DefaultEndpoint.
func NewClient(endpoint string, auth Auth, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		auth:         auth,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: DefaultPollInterval,
		userID:       defaultUserID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartConversation opens a new conversation and returns its id.
func (c *Client) StartConversation(ctx context.Context) (string, error) {
	var resp conversationResponse
	if err := c.do(ctx, "start conversation", http.MethodPost, "/conversations", nil, &resp); err != nil {
		return "", err
	}

	id := resp.ConversationID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return "", &ProtocolError{Op: "start conversation", Body: "response carries no conversation id"}
	}

	slog.Debug("started conversation", "conversation_id", id)
	return id, nil
}

// SendTurn posts one user message to the conversation.
func (c *Client) SendTurn(ctx context.Context, conversationID, text string) error {
	body := outgoingActivity{
		Type: "message",
		From: Account{ID: c.userID},
		Text: text,
	}
	return c.do(ctx, "send turn", http.MethodPost, activitiesPath(conversationID), body, nil)
}

// PollActivities returns every activity observed after cursor together with
// the cursor for the next call. An empty cursor reads from the beginning.
func (c *Client) PollActivities(ctx context.Context, conversationID, cursor string) ([]Activity, string, error) {
	path := activitiesPath(conversationID)
	if cursor != "" {
		path += "?watermark=" + url.QueryEscape(cursor)
	}

	var set activitySet
	if err := c.do(ctx, "poll activities", http.MethodGet, path, nil, &set); err != nil {
		return nil, cursor, err
	}

	activities := make([]Activity, 0, len(set.Activities))
	for _, raw := range set.Activities {
		var a Activity
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, cursor, &ProtocolError{Op: "poll activities", Err: fmt.Errorf("failed to decode activity: %w", err)}
		}
		a.Raw = raw
		activities = append(activities, a)
	}

	next := set.Watermark
	if next == "" {
		next = cursor
	}
	return activities, next, nil
}

// AwaitReply polls until a message from someone other than the user arrives
// or timeout elapses. It returns the bot messages of the first poll that had
// any, and the cursor to continue from. A timeout is not an error: the
// returned slice is simply empty. Cancellation returns ctx.Err().
func (c *Client) AwaitReply(ctx context.Context, conversationID, cursor string, timeout time.Duration) ([]Activity, string, error) {
	deadline := time.Now().Add(timeout)

	for {
		activities, next, err := c.PollActivities(ctx, conversationID, cursor)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, cursor, ctxErr
			}
			return nil, cursor, err
		}
		cursor = next

		var replies []Activity
		for _, a := range activities {
			if a.Type == "message" && a.From.ID != c.userID {
				replies = append(replies, a)
			}
		}
		if len(replies) > 0 {
			return replies, cursor, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			slog.Debug("no reply before timeout", "conversation_id", conversationID, "timeout", timeout)
			return nil, cursor, nil
		}
		if len(activities) > 0 {
			continue
		}

		wait := min(c.pollInterval, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, cursor, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	switch a := c.auth.(type) {
	case StaticSecret:
		return a.Secret, nil
	case ExchangedToken:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.token != "" {
			return c.token, nil
		}
		token, err := c.exchange(ctx, a.Secret)
		if err != nil {
			return "", err
		}
		c.token = token
		return token, nil
	default:
		return "", fmt.Errorf("unsupported auth mode %T", c.auth)
	}
}

func (c *Client) exchange(ctx context.Context, secret string) (string, error) {
	const op = "generate token"

	var resp conversationResponse
	if err := c.send(ctx, op, http.MethodPost, "/tokens/generate", secret, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &ProtocolError{Op: op, Body: "response carries no token"}
	}

	slog.Debug("exchanged secret for conversation token", "expires_in", resp.ExpiresIn)
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, op, method, path, token, body, out)
}

func (c *Client) send(ctx context.Context, op, method, path, token string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%s: rate limiter: %w", op, err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ProtocolError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	slog.Debug("direct line call", "op", op, "method", method, "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func activitiesPath(conversationID string) string {
	return "/conversations/" + url.PathEscape(conversationID) + "/activities"
}
