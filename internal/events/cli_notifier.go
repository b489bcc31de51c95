package events

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// CLINotifier prints colored status lines to an io.Writer, the same
// fatih/color idiom the teacher's test fixtures use for diff output
// (internal/testutils/textassert.go) applied here to live status
// messages instead of test failures.
type CLINotifier struct {
	out io.Writer

	info  *color.Color
	warn  *color.Color
	error *color.Color
}

// NewCLINotifier builds a Notifier that writes to out.
func NewCLINotifier(out io.Writer) *CLINotifier {
	return &CLINotifier{
		out:   out,
		info:  color.New(color.FgCyan),
		warn:  color.New(color.FgYellow, color.Bold),
		error: color.New(color.FgRed, color.Bold),
	}
}

func (n *CLINotifier) Notify(level Level, message string) {
	switch level {
	case LevelWarn:
		fmt.Fprintln(n.out, n.warn.Sprintf("WARN: %s", message))
	case LevelError:
		fmt.Fprintln(n.out, n.error.Sprintf("ERROR: %s", message))
	default:
		fmt.Fprintln(n.out, n.info.Sprintf("%s", message))
	}
}
