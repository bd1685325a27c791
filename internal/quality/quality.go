// Package quality runs configured quality-gate commands and captures their
// results.
package quality

import (
	"context"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// outputTailLimit bounds how much command output is kept per gate.
const outputTailLimit = 4096

// CommandResult is the outcome of one gate command.
type CommandResult struct {
	Command    string `json:"command"`
	Passed     bool   `json:"passed"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
}

// Report aggregates one quality-gate attempt.
type Report struct {
	Passed   bool            `json:"passed"`
	Commands []CommandResult `json:"commands"`
	Duration time.Duration   `json:"-"`
}

// Runner executes a list of shell commands in a workdir.
type Runner interface {
	Run(ctx context.Context, workdir string, gates []string) (Report, error)
}

// ExecRunner runs gates through the shell.
type ExecRunner struct{}

// NewExecRunner constructs the default subprocess-backed runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes every gate in order. All gates run even after a failure so
// the report names everything that is broken.
func (r *ExecRunner) Run(ctx context.Context, workdir string, gates []string) (Report, error) {
	started := time.Now()
	report := Report{Passed: true}
	for _, gateCmd := range gates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := runGate(ctx, workdir, gateCmd)
		if !res.Passed {
			report.Passed = false
		}
		report.Commands = append(report.Commands, res)
		log.Debug().Str("command", gateCmd).Bool("passed", res.Passed).Msg("quality gate")
	}
	report.Duration = time.Since(started)
	return report, nil
}

func runGate(ctx context.Context, workdir, gateCmd string) CommandResult {
	started := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", gateCmd)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	res := CommandResult{
		Command:    gateCmd,
		Output:     tail(string(out)),
		DurationMS: time.Since(started).Milliseconds(),
	}
	switch e := err.(type) {
	case nil:
		res.Passed = true
	case *exec.ExitError:
		res.ExitCode = e.ExitCode()
	default:
		res.ExitCode = -1
		res.Output = tail(res.Output + "\n" + err.Error())
	}
	return res
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputTailLimit {
		return s
	}
	// Never cut in the middle of a multi-byte rune.
	cut := len(s) - outputTailLimit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "[truncated] " + s[cut:]
}
