package runner

import (
	"errors"
	"strings"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// ErrRateLimited is reported when the agent kept answering with a rate
// limit notice until the retry budget ran out.
var ErrRateLimited = errors.New("rate limit exceeded after all retry attempts")

// DefaultRateLimitMarkers are the notices agents have been seen to emit when
// their planner is throttled.
var DefaultRateLimitMarkers = []string{
	"GenAIToolPlannerRateLimitReached",
	"RateLimitReached",
}

// RateLimitDetector reports whether a finished attempt hit an upstream rate
// limit. It is swappable so that a structured signal can replace the text
// heuristic once agents expose one.
type RateLimitDetector func(transcript []testsuite.TranscriptMessage) bool

// MarkerDetector matches any marker case-insensitively in bot messages.
func MarkerDetector(markers ...string) RateLimitDetector {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m != "" {
			lowered = append(lowered, strings.ToLower(m))
		}
	}
	return func(transcript []testsuite.TranscriptMessage) bool {
		for _, msg := range transcript {
			if msg.Role != testsuite.RoleBot {
				continue
			}
			content := strings.ToLower(msg.Content)
			for _, m := range lowered {
				if strings.Contains(content, m) {
					return true
				}
			}
		}
		return false
	}
}
