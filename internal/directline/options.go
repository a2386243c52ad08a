package directline

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets the wait between empty polls in AwaitReply.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithUserID sets the sender id used for outgoing user turns.
func WithUserID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.userID = id
		}
	}
}

// WithRequestsPerMinute caps outbound calls made by this client.
// Zero or a negative value leaves calls unthrottled.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60), n)
	}
}
