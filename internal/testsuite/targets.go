package testsuite

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Target defaults.
const (
	DefaultDirectLineEndpoint  = "https://directline.botframework.com/v3/directline"
	DefaultReplyTimeoutSeconds = 30
	DefaultMaxRetries          = 2
	DefaultBackoffSeconds      = 4

	DefaultJudgeEndpoint   = "https://api.openai.com/v1"
	DefaultJudgeModel      = "gpt-4o-mini"
	DefaultTemperature     = 0.2
	DefaultTopP            = 0.9
	DefaultMaxTokens       = 800
	DefaultPassThreshold   = 0.7
	DefaultAzureAPIVersion = "2024-06-01"
)

// Target is an agent profile: which agent to drive and which judge scores it.
// The engine never mutates a Target.
type Target struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Environment string          `yaml:"environment" json:"environment,omitempty"`
	Transport   TransportConfig `yaml:"transport" json:"transport"`
	Judge       JudgeConfig     `yaml:"judge" json:"judge"`
}

// TransportConfig describes how to reach the agent.
type TransportConfig struct {
	Endpoint         string `yaml:"endpoint" json:"endpoint"`
	Secret           string `yaml:"secret" json:"-"`
	UseTokenExchange bool   `yaml:"use_token_exchange" json:"use_token_exchange"`
	// ReplyTimeoutSeconds bounds the wait for a reply to a single turn.
	ReplyTimeoutSeconds int  `yaml:"reply_timeout_seconds" json:"reply_timeout_seconds"`
	MaxRetries          *int `yaml:"max_retries" json:"max_retries,omitempty"`
	BackoffSeconds      int  `yaml:"backoff_seconds" json:"backoff_seconds"`
	// RequestsPerMinute caps outbound transport calls. Zero disables the cap.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute,omitempty"`
}

// Weights are the per-dimension weights of the judge's overall score.
type Weights struct {
	TaskSuccess float64 `yaml:"task_success" json:"task_success"`
	IntentMatch float64 `yaml:"intent_match" json:"intent_match"`
	Factuality  float64 `yaml:"factuality" json:"factuality"`
	Helpfulness float64 `yaml:"helpfulness" json:"helpfulness"`
	Safety      float64 `yaml:"safety" json:"safety"`
}

// DefaultWeights favours task success over the remaining dimensions.
func DefaultWeights() Weights {
	return Weights{
		TaskSuccess: 0.3,
		IntentMatch: 0.2,
		Factuality:  0.2,
		Helpfulness: 0.15,
		Safety:      0.15,
	}
}

// IsZero reports whether no weight was configured.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

// JudgeConfig describes the judge model used to score transcripts.
type JudgeConfig struct {
	Endpoint       string   `yaml:"endpoint" json:"endpoint"`
	APIKey         string   `yaml:"api_key" json:"-"`
	Azure          bool     `yaml:"azure" json:"azure,omitempty"`
	APIVersion     string   `yaml:"api_version" json:"api_version,omitempty"`
	Model          string   `yaml:"model" json:"model"`
	Temperature    *float64 `yaml:"temperature" json:"temperature,omitempty"`
	TopP           *float64 `yaml:"top_p" json:"top_p,omitempty"`
	MaxTokens      int      `yaml:"max_tokens" json:"max_tokens"`
	PassThreshold  *float64 `yaml:"pass_threshold" json:"pass_threshold,omitempty"`
	Weights        Weights  `yaml:"weights" json:"weights"`
	PromptTemplate string   `yaml:"prompt_template" json:"prompt_template,omitempty"`

	// ModelURI, when set, lets the judge model be served in-cluster.
	ModelURI string `yaml:"model_uri" json:"model_uri,omitempty"`
	GPUCount int    `yaml:"gpu_count" json:"gpu_count,omitempty"`
}

type targetsFile struct {
	Targets []Target `yaml:"targets"`
}

// LoadTargets reads a targets file. ${VAR} references are expanded from the
// environment before parsing so that secrets can stay out of the file.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	return ParseTargets(data)
}

// ParseTargets parses targets YAML, applies defaults and validates the result.
func ParseTargets(data []byte) ([]Target, error) {
	var f targetsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse targets: %w", err)
	}
	if len(f.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined")
	}

	seen := make(map[string]bool, len(f.Targets))
	for i := range f.Targets {
		t := &f.Targets[i]
		if t.ID == "" {
			return nil, fmt.Errorf("target %d has no id", i+1)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
		if t.Transport.Secret == "" {
			return nil, fmt.Errorf("target %q has no transport secret", t.ID)
		}
		t.ApplyDefaults()
	}
	return f.Targets, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (t *Target) ApplyDefaults() {
	if t.Name == "" {
		t.Name = t.ID
	}

	tr := &t.Transport
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultDirectLineEndpoint
	}
	if tr.ReplyTimeoutSeconds <= 0 {
		tr.ReplyTimeoutSeconds = DefaultReplyTimeoutSeconds
	}
	if tr.MaxRetries == nil {
		n := DefaultMaxRetries
		tr.MaxRetries = &n
	}
	if tr.BackoffSeconds <= 0 {
		tr.BackoffSeconds = DefaultBackoffSeconds
	}

	j := &t.Judge
	if j.Endpoint == "" && j.ModelURI == "" {
		j.Endpoint = DefaultJudgeEndpoint
	}
	if j.Model == "" {
		j.Model = DefaultJudgeModel
	}
	if j.Azure && j.APIVersion == "" {
		j.APIVersion = DefaultAzureAPIVersion
	}
	if j.Temperature == nil {
		v := DefaultTemperature
		j.Temperature = &v
	}
	if j.TopP == nil {
		v := DefaultTopP
		j.TopP = &v
	}
	if j.MaxTokens <= 0 {
		j.MaxTokens = DefaultMaxTokens
	}
	if j.PassThreshold == nil {
		v := DefaultPassThreshold
		j.PassThreshold = &v
	}
	if j.Weights.IsZero() {
		j.Weights = DefaultWeights()
	}
}
