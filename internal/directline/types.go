package directline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Account identifies the author of an activity.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Activity is one event in a conversation.
type Activity struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	From      Account   `json:"from"`
	Text      string    `json:"text,omitempty"`
	ReplyToID string    `json:"replyToId,omitempty"`

	// Raw is the activity exactly as returned by the service.
	Raw json.RawMessage `json:"-"`
}

// Sender returns the most descriptive identity of the author.
func (a Activity) Sender() string {
	if a.From.Name != "" {
		return a.From.Name
	}
	if a.From.ID != "" {
		return a.From.ID
	}
	return "bot"
}

type outgoingActivity struct {
	Type string  `json:"type"`
	From Account `json:"from"`
	Text string  `json:"text"`
}

type activitySet struct {
	Activities []json.RawMessage `json:"activities"`
	Watermark  string            `json:"watermark"`
}

type conversationResponse struct {
	ConversationID string `json:"conversationId"`
	ID             string `json:"id"`
	Token          string `json:"token,omitempty"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
	StreamURL      string `json:"streamUrl,omitempty"`
}

// AuthError is returned when the service rejects the credentials.
// It is never worth retrying.
type AuthError struct {
	Op         string
	StatusCode int
}

func (e *AuthError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Sprintf("%s: invalid or expired Direct Line secret (HTTP %d)", e.Op, e.StatusCode)
	case http.StatusForbidden:
		return fmt.Sprintf("%s: access denied, check that the secret belongs to this bot (HTTP %d)", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: authentication failed (HTTP %d)", e.Op, e.StatusCode)
	}
}

// ProtocolError is returned for any other unexpected response.
type ProtocolError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Body)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
