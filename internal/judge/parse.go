package judge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// response mirrors the JSON object the judge is asked to produce.
type response struct {
	TaskSuccess float64  `json:"task_success"`
	IntentMatch float64  `json:"intent_match"`
	Factuality  float64  `json:"factuality"`
	Helpfulness float64  `json:"helpfulness"`
	Safety      float64  `json:"safety"`
	Rationale   string   `json:"rationale"`
	Citations   []string `json:"citations"`
}

var errNoJSON = errors.New("no JSON object found in judge response")

// parseResponse pulls the verdict object out of free text. Models often wrap
// the object in prose or code fences, so the first balanced object is tried
// first and the first-to-last brace span second. Missing, null and quoted
// numbers are accepted; missing numbers count as zero.
func parseResponse(text string) (response, error) {
	var candidates []string
	if span, ok := firstBalancedObject(text); ok {
		candidates = append(candidates, span)
	}
	start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	if len(candidates) == 0 {
		return response{}, errNoJSON
	}

	var lastErr error
	for _, c := range candidates {
		r, err := decodeObject(c)
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	return response{}, lastErr
}

func decodeObject(s string) (response, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return response{}, fmt.Errorf("failed to parse judge JSON: %w", err)
	}

	var out response
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return response{}, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return response{}, fmt.Errorf("failed to decode judge JSON: %w", err)
	}
	return out, nil
}

// firstBalancedObject returns the first {...} span whose braces balance,
// ignoring braces inside JSON strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			ch := s[i]
			switch {
			case escaped:
				escaped = false
			case inString && ch == '\\':
				escaped = true
			case ch == '"':
				inString = !inString
			case inString:
			case ch == '{':
				depth++
			case ch == '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}
