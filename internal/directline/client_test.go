package directline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBot is an in-memory Direct Line service that echoes every user turn.
type fakeBot struct {
	mu            sync.Mutex
	secret        string
	token         string
	silent        bool
	activities    []map[string]any
	tokenRequests int
	authHeaders   []string
}

func newFakeBot(t *testing.T, secret string) (*fakeBot, *httptest.Server) {
	t.Helper()
	bot := &fakeBot{secret: secret, token: "conv-token"}
	srv := httptest.NewServer(bot)
	t.Cleanup(srv.Close)
	return bot, srv
}

func (b *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.authHeaders = append(b.authHeaders, auth)

	switch {
	case r.URL.Path == "/tokens/generate" && r.Method == http.MethodPost:
		b.tokenRequests++
		if auth != b.secret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"conversationId": "abc", "token": b.token, "expires_in": 3600})
		return
	}

	if auth != b.secret && auth != b.token {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch {
	case r.URL.Path == "/conversations" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"conversationId": "conv-1"})
	case r.URL.Path == "/conversations/conv-1/activities" && r.Method == http.MethodPost:
		var in outgoingActivity
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.append(in.From.ID, "", in.Text)
		if !b.silent {
			b.append("bot-1", "Support Bot", "echo: "+in.Text)
		}
		writeJSON(w, map[string]any{"id": "conv-1|" + strconv.Itoa(len(b.activities))})
	case r.URL.Path == "/conversations/conv-1/activities" && r.Method == http.MethodGet:
		from := 0
		if wm := r.URL.Query().Get("watermark"); wm != "" {
			from, _ = strconv.Atoi(wm)
		}
		var out []map[string]any
		if from < len(b.activities) {
			out = b.activities[from:]
		}
		writeJSON(w, map[string]any{"activities": out, "watermark": strconv.Itoa(len(b.activities))})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *fakeBot) append(fromID, fromName, text string) {
	from := map[string]any{"id": fromID}
	if fromName != "" {
		from["name"] = fromName
	}
	b.activities = append(b.activities, map[string]any{
		"type":      "message",
		"id":        "conv-1|" + strconv.Itoa(len(b.activities)),
		"timestamp": time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339Nano),
		"from":      from,
		"text":      text,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestConversationRoundTrip(t *testing.T) {
	_, srv := newFakeBot(t, "secret")
	c := NewClient(srv.URL, StaticSecret{Secret: "secret"}, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	id, err := c.StartConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", id)

	require.NoError(t, c.SendTurn(ctx, id, "hello"))

	activities, cursor, err := c.PollActivities(ctx, id, "")
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, "user", activities[0].From.ID)
	assert.Equal(t, "echo: hello", activities[1].Text)
	assert.Equal(t, "Support Bot", activities[1].Sender())
	assert.NotEmpty(t, activities[1].Raw)
	assert.Equal(t, "2", cursor)

	// Nothing new after the cursor.
	activities, next, err := c.PollActivities(ctx, id, cursor)
	require.NoError(t, err)
	assert.Empty(t, activities)
	assert.Equal(t, cursor, next)
}

func TestAwaitReplySkipsUserEcho(t *testing.T) {
	_, srv := newFakeBot(t, "secret")
	c := NewClient(srv.URL, StaticSecret{Secret: "secret"}, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	id, err := c.StartConversation(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SendTurn(ctx, id, "first"))

	replies, cursor, err := c.AwaitReply(ctx, id, "", time.Second)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "echo: first", replies[0].Text)

	require.NoError(t, c.SendTurn(ctx, id, "second"))
	replies, _, err = c.AwaitReply(ctx, id, cursor, time.Second)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "echo: second", replies[0].Text)
}

func TestAwaitReplyTimeout(t *testing.T) {
	bot, srv := newFakeBot(t, "secret")
	bot.silent = true
	c := NewClient(srv.URL, StaticSecret{Secret: "secret"}, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	id, err := c.StartConversation(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SendTurn(ctx, id, "anyone?"))

	start := time.Now()
	replies, cursor, err := c.AwaitReply(ctx, id, "", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, replies)
	assert.Equal(t, "1", cursor)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAwaitReplyCancellation(t *testing.T) {
	bot, srv := newFakeBot(t, "secret")
	bot.silent = true
	c := NewClient(srv.URL, StaticSecret{Secret: "secret"}, WithPollInterval(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	id, err := c.StartConversation(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, err = c.AwaitReply(ctx, id, "", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExchangedTokenIsCached(t *testing.T) {
	bot, srv := newFakeBot(t, "secret")
	c := NewClient(srv.URL, ExchangedToken{Secret: "secret"})
	ctx := context.Background()

	id, err := c.StartConversation(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SendTurn(ctx, id, "hi"))
	_, _, err = c.PollActivities(ctx, id, "")
	require.NoError(t, err)

	bot.mu.Lock()
	defer bot.mu.Unlock()
	assert.Equal(t, 1, bot.tokenRequests)
	// First header is the secret for the exchange, the rest use the token.
	assert.Equal(t, []string{"secret", "conv-token", "conv-token", "conv-token"}, bot.authHeaders)
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name   string
		auth   Auth
		status int
	}{
		{name: "bad static secret", auth: StaticSecret{Secret: "wrong"}, status: http.StatusForbidden},
		{name: "bad exchanged secret", auth: ExchangedToken{Secret: "wrong"}, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newFakeBot(t, "secret")
			c := NewClient(srv.URL, tt.auth)

			_, err := c.StartConversation(context.Background())
			require.Error(t, err)

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.status, authErr.StatusCode)
		})
	}
}

func TestProtocolErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			writeJSON(w, map[string]any{})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, StaticSecret{Secret: "s"})

	_, err := c.StartConversation(context.Background())
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Contains(t, err.Error(), "no conversation id")

	err = c.SendTurn(context.Background(), "x", "hi")
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, http.StatusInternalServerError, protoErr.StatusCode)
	assert.Equal(t, "boom", protoErr.Body)
}

func TestRequestsPerMinuteLimiter(t *testing.T) {
	c := NewClient("http://example.invalid", StaticSecret{Secret: "s"}, WithRequestsPerMinute(30))
	require.NotNil(t, c.limiter)
	assert.InDelta(t, 0.5, float64(c.limiter.Limit()), 1e-9)
	assert.Equal(t, 30, c.limiter.Burst())

	c = NewClient("", StaticSecret{Secret: "s"}, WithRequestsPerMinute(0))
	assert.Nil(t, c.limiter)
	assert.Equal(t, DefaultEndpoint, c.endpoint)
}
