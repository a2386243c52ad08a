package testsuite

import (
	"encoding/json"
	"time"
)

// Verdict is the final outcome of a single test case.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictError   Verdict = "error"
	VerdictSkipped Verdict = "skipped"
	// VerdictUnknown marks a result that was never evaluated.
	VerdictUnknown Verdict = "unknown"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// TestSuite is a named, ordered collection of test cases together with the
// default policy applied when neither the case nor the target overrides it.
// The engine treats a loaded suite as read-only.
type TestSuite struct {
	Name                  string     `yaml:"name" json:"name"`
	Description           string     `yaml:"description" json:"description"`
	Version               string     `yaml:"version" json:"version"`
	DefaultTimeoutSeconds int        `yaml:"default_timeout_seconds" json:"default_timeout_seconds"`
	DefaultMaxRetries     int        `yaml:"default_max_retries" json:"default_max_retries"`
	CasesFile             string     `yaml:"cases_file" json:"cases_file,omitempty"`
	TestCases             []TestCase `yaml:"test_cases" json:"test_cases"`
}

// ActiveTestCases returns the active test cases in stored order.
func (s *TestSuite) ActiveTestCases() []TestCase {
	active := make([]TestCase, 0, len(s.TestCases))
	for _, tc := range s.TestCases {
		if tc.IsActive() {
			active = append(active, tc)
		}
	}
	return active
}

// TestCase is one scripted conversation with its acceptance criteria.
type TestCase struct {
	ID                 string   `yaml:"id" json:"id"`
	Name               string   `yaml:"name" json:"name"`
	Description        string   `yaml:"description" json:"description,omitempty"`
	Category           string   `yaml:"category" json:"category,omitempty"`
	Priority           int      `yaml:"priority" json:"priority,omitempty"`
	UserInput          []string `yaml:"user_input" json:"user_input"`
	TimeoutSeconds     *int     `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	MaxRetries         *int     `yaml:"max_retries" json:"max_retries,omitempty"`
	ExpectedIntent     string   `yaml:"expected_intent" json:"expected_intent,omitempty"`
	ExpectedEntities   []string `yaml:"expected_entities" json:"expected_entities,omitempty"`
	AcceptanceCriteria string   `yaml:"acceptance_criteria" json:"acceptance_criteria"`
	ReferenceAnswer    string   `yaml:"reference_answer" json:"reference_answer,omitempty"`
	Active             *bool    `yaml:"active" json:"active,omitempty"`
}

// IsActive reports whether the test case takes part in executions.
// Cases without an explicit flag are active.
func (tc TestCase) IsActive() bool {
	return tc.Active == nil || *tc.Active
}

// TranscriptMessage is one conversation turn.
type TranscriptMessage struct {
	Role      Role      `json:"role"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int       `json:"sequence"`
	// RawActivity holds the activity exactly as received for bot messages.
	RawActivity json.RawMessage `json:"raw_activity,omitempty"`
}

// Scores holds the five judge dimensions, each between 0 and 1.
type Scores struct {
	TaskSuccess float64 `json:"task_success"`
	IntentMatch float64 `json:"intent_match"`
	Factuality  float64 `json:"factuality"`
	Helpfulness float64 `json:"helpfulness"`
	Safety      float64 `json:"safety"`
}

// Result is the outcome of one test case within a Run.
type Result struct {
	ID             string              `json:"id"`
	RunID          string              `json:"run_id"`
	TestCaseID     string              `json:"test_case_id"`
	TestCaseName   string              `json:"test_case_name"`
	Verdict        Verdict             `json:"verdict"`
	Scores         Scores              `json:"scores"`
	OverallScore   float64             `json:"overall_score"`
	LatencyMs      int64               `json:"latency_ms"`
	TurnCount      int                 `json:"turn_count"`
	Attempts       int                 `json:"attempts"`
	JudgeRationale string              `json:"judge_rationale,omitempty"`
	JudgeCitations []string            `json:"judge_citations,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	ExecutedAt     time.Time           `json:"executed_at"`
	Transcript     []TranscriptMessage `json:"transcript"`
}

// Run is one execution of a suite against one target.
type Run struct {
	ID               string     `json:"id"`
	SuiteName        string     `json:"suite_name"`
	TargetID         string     `json:"target_id,omitempty"`
	TargetName       string     `json:"target_name,omitempty"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TotalTestCases   int        `json:"total_test_cases"`
	PassedCount      int        `json:"passed_count"`
	FailedCount      int        `json:"failed_count"`
	SkippedCount     int        `json:"skipped_count"`
	AverageLatencyMs float64    `json:"average_latency_ms"`
	MedianLatencyMs  float64    `json:"median_latency_ms"`
	P95LatencyMs     float64    `json:"p95_latency_ms"`
	Results          []Result   `json:"results"`
}

// PassRate returns the share of passed test cases in percent.
func (r *Run) PassRate() float64 {
	if r.TotalTestCases == 0 {
		return 0
	}
	return float64(r.PassedCount) / float64(r.TotalTestCases) * 100
}

// HasFailures reports whether any result failed or errored.
func (r *Run) HasFailures() bool {
	for _, res := range r.Results {
		if res.Verdict == VerdictFail || res.Verdict == VerdictError {
			return true
		}
	}
	return r.FailedCount > 0
}
