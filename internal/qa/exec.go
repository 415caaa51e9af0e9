package qa

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const maxDetailChars = 4000

// runExternal executes the configured external test command to
// completion. Its exit code and combined output are the whole
// contract; no structured result format is assumed.
func runExternal(ctx context.Context, command string) (bool, string) {
	parts := splitCommand(command)
	if len(parts) == 0 {
		return false, "external test command is empty"
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	out, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return false, clipText(fmt.Sprintf("external test command failed to run: %v", err), maxDetailChars)
		}
	}

	combined := strings.TrimSpace(string(out))
	if combined == "" {
		combined = "external test command produced no output."
	}
	details := fmt.Sprintf("exit_code=%d\n%s", exitCode, combined)
	return exitCode == 0, clipText(details, maxDetailChars)
}

// splitCommand splits a shell-ish command line on whitespace,
// honoring single and double quotes.
func splitCommand(command string) []string {
	var parts []string
	var cur strings.Builder
	var quote rune
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, ch := range command {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteRune(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ' ' || ch == '\t' || ch == '\n':
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	flush()
	return parts
}

// clipText truncates s to at most max characters, marking the cut.
func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
