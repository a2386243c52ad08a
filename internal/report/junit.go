package report

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// JUnitTestSuites is the top-level container.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite maps to one run, i.e. one target.
type JUnitTestSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase maps to one result.
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitMessage `xml:"failure,omitempty"`
	Error     *JUnitMessage `xml:"error,omitempty"`
	Skipped   *JUnitMessage `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitMessage is the body of a failure, error or skipped element.
type JUnitMessage struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

// JUnitProperty is a key-value metadata entry.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConvertToJUnit maps runs to JUnit suites. Judge failures become failures,
// transport and judge errors become errors.
func ConvertToJUnit(name string, runs []*testsuite.Run) *JUnitTestSuites {
	out := &JUnitTestSuites{Name: name}
	for _, run := range runs {
		suite := JUnitTestSuite{
			Name:      fmt.Sprintf("%s/%s", run.SuiteName, run.TargetID),
			Tests:     len(run.Results),
			Timestamp: run.StartedAt.Format(time.RFC3339),
			Properties: []JUnitProperty{
				{Name: "run_id", Value: run.ID},
				{Name: "target", Value: run.TargetID},
				{Name: "pass_rate", Value: fmt.Sprintf("%.1f", run.PassRate())},
				{Name: "p95_latency_ms", Value: fmt.Sprintf("%.0f", run.P95LatencyMs)},
			},
		}
		if run.CompletedAt != nil {
			suite.Time = run.CompletedAt.Sub(run.StartedAt).Seconds()
		}

		for _, r := range run.Results {
			tc := JUnitTestCase{
				Name:      r.TestCaseID,
				Classname: run.SuiteName,
				Time:      float64(r.LatencyMs) / 1000.0,
				SystemOut: transcriptText(r.Transcript),
			}
			switch r.Verdict {
			case testsuite.VerdictPass:
			case testsuite.VerdictFail:
				suite.Failures++
				tc.Failure = &JUnitMessage{
					Message: fmt.Sprintf("score=%.2f", r.OverallScore),
					Type:    "JudgeFailure",
					Body:    r.JudgeRationale,
				}
			case testsuite.VerdictError:
				suite.Errors++
				msg := r.ErrorMessage
				if msg == "" {
					msg = r.JudgeRationale
				}
				tc.Error = &JUnitMessage{Message: msg, Type: "ExecutionError"}
			default:
				suite.Skipped++
				tc.Skipped = &JUnitMessage{Message: r.ErrorMessage}
			}
			suite.TestCases = append(suite.TestCases, tc)
		}

		out.Tests += suite.Tests
		out.Failures += suite.Failures
		out.Errors += suite.Errors
		out.Skipped += suite.Skipped
		out.Time += suite.Time
		out.TestSuites = append(out.TestSuites, suite)
	}
	return out
}

// WriteJUnitXML writes JUnit XML for runs to path.
func WriteJUnitXML(path, name string, runs []*testsuite.Run) error {
	data, err := xml.MarshalIndent(ConvertToJUnit(name, runs), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JUnit XML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return writeFileAtomic(path, append([]byte(xml.Header), data...), 0o644)
}

func transcriptText(transcript []testsuite.TranscriptMessage) string {
	var s string
	for _, m := range transcript {
		s += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
	}
	return s
}
