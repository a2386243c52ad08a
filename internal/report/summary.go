// Package report renders finished runs for people and for CI systems.
package report

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

var printer = message.NewPrinter(language.English)

// WriteSummary writes a plain text summary of each run followed by one line
// per test case that did not pass.
func WriteSummary(w io.Writer, runs []*testsuite.Run) error {
	var b strings.Builder
	for _, run := range runs {
		target := run.TargetID
		if run.TargetName != "" && run.TargetName != run.TargetID {
			target = fmt.Sprintf("%s (%s)", run.TargetName, run.TargetID)
		}

		b.WriteString("---\n")
		fmt.Fprintf(&b, "SUITE: %s\n", run.SuiteName)
		fmt.Fprintf(&b, "TARGET: %s\n", target)
		fmt.Fprintf(&b, "RUN: %s\n", run.ID)
		printer.Fprintf(&b, "RESULTS: %d passed, %d failed, %d skipped of %d (%.1f%%)\n",
			run.PassedCount, run.FailedCount, run.SkippedCount, run.TotalTestCases, run.PassRate())
		printer.Fprintf(&b, "LATENCY: avg %.0f ms, median %.0f ms, p95 %.0f ms\n",
			run.AverageLatencyMs, run.MedianLatencyMs, run.P95LatencyMs)

		for _, r := range run.Results {
			if r.Verdict == testsuite.VerdictPass {
				continue
			}
			detail := r.ErrorMessage
			if detail == "" {
				detail = r.JudgeRationale
			}
			fmt.Fprintf(&b, "  %-7s %s score=%.2f %s\n", strings.ToUpper(string(r.Verdict)), r.TestCaseID, r.OverallScore, oneLine(detail))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
