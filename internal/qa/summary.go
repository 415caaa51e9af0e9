package qa

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// WriteSummary renders the human-readable gate report for operators
// and downstream schedulers. Returns the written path.
func WriteSummary(dir string, ev *Evaluation, th Thresholds) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "qa: create report dir %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("qa_summary_%s.md", ev.QADate))

	var b strings.Builder
	fmt.Fprintf(&b, "# QA summary - %s\n\n", ev.QADate)
	status := "PASS"
	if !ev.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "- Status: **%s**\n", status)
	fmt.Fprintf(&b, "- QA run id: `%s`\n", ev.QARunID)

	externalStatus := "PASS"
	for _, gr := range ev.Results {
		if gr.Name == "external_tests" && !gr.Passed {
			externalStatus = "FAIL"
		}
	}
	if th.RunExternalTests {
		fmt.Fprintf(&b, "- External tests: **%s** (`%s`)\n\n", externalStatus, th.TestCommand)
	} else {
		b.WriteString("- External tests: skipped\n\n")
	}

	b.WriteString("| Gate | Passed | Actual | Threshold | Details |\n")
	b.WriteString("|---|---|---:|---:|---|\n")
	for _, gr := range ev.Results {
		actual := ""
		if gr.Actual != nil {
			actual = fmt.Sprintf("%g", *gr.Actual)
		}
		threshold := ""
		if gr.Threshold != nil {
			threshold = fmt.Sprintf("%g", *gr.Threshold)
		}
		passed := "no"
		if gr.Passed {
			passed = "yes"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", gr.Name, passed, actual, threshold, gr.Details)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", eris.Wrapf(err, "qa: write summary %s", path)
	}
	return path, nil
}
