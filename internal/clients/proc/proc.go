// Package proc runs external programs and logs their results.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStdoutMaxLines = 24
	DefaultStderrMaxLines = 40
)

// Result holds the captured output and exit status of a program which ran to completion.
type Result struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run runs the named program with the provided arguments and captures its output. A program which
// exits with a nonzero code is not an error; an error is only returned if the program could not be
// started, or if the context expired before the program finished.
func Run(ctx context.Context, name string, args ...string) (Result, error) {
	res := Result{Args: append([]string{name}, args...)}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, errors.Wrapf(ctxErr, "%s did not finish", name)
	}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, errors.Wrapf(err, "couldn't run %s", name)
}

// LogOptions controls how LogResult reports a Result.
type LogOptions struct {
	// Description is what we tried to do by running the program; defaults to the program name.
	Description string
	// OKExit lists the exit codes which are not failures; defaults to just 0.
	OKExit         []int
	SuccessLevel   logrus.Level
	FailureLevel   logrus.Level
	StdoutMaxLines int
	StderrMaxLines int
}

// DefaultLogOptions logs successes at debug level and failures at error level.
func DefaultLogOptions(description string) LogOptions {
	return LogOptions{
		Description:    description,
		OKExit:         []int{0},
		SuccessLevel:   logrus.DebugLevel,
		FailureLevel:   logrus.ErrorLevel,
		StdoutMaxLines: DefaultStdoutMaxLines,
		StderrMaxLines: DefaultStderrMaxLines,
	}
}

// OK reports whether the result's exit code is acceptable under the options.
func (o LogOptions) OK(res Result) bool {
	if len(o.OKExit) == 0 {
		return res.ExitCode == 0
	}
	return slices.Contains(o.OKExit, res.ExitCode)
}

// LogResult logs whether the program succeeded, along with its ellipsized stdout and stderr. The
// log level depends on whether the exit code was acceptable. It returns that same judgement.
func LogResult(log *logrus.Entry, res Result, opts LogOptions) bool {
	ok := opts.OK(res)
	level := opts.FailureLevel
	if ok {
		level = opts.SuccessLevel
	}
	description := opts.Description
	if description == "" && len(res.Args) > 0 {
		description = res.Args[0]
	}
	outcome := "failed"
	if ok {
		outcome = "succeeded"
	}

	lines := []string{fmt.Sprintf("%s %s with exit code %d", description, outcome, res.ExitCode)}
	if res.Stdout != "" {
		lines = append(lines, "-----", "Stdout:")
		lines = append(lines, EllipsizeLines(splitLines(res.Stdout), opts.StdoutMaxLines)...)
	}
	if res.Stderr != "" {
		lines = append(lines, "-----", "Stderr:")
		lines = append(lines, EllipsizeLines(splitLines(res.Stderr), opts.StderrMaxLines)...)
	}
	lines = append(lines, "-----")
	LogLines(log, level, lines)
	return ok
}

// LogMultiline logs a potentially multi-line message as one log entry per line.
func LogMultiline(log *logrus.Entry, level logrus.Level, msg string) {
	LogLines(log, level, splitLines(msg))
}

func LogLines(log *logrus.Entry, level logrus.Level, lines []string) {
	if !log.Logger.IsLevelEnabled(level) {
		return
	}
	for _, line := range lines {
		log.Log(level, line)
	}
}

// EllipsizeLines replaces the middle of the lines with a single "..." line if there are more than
// maxLines lines.
func EllipsizeLines(lines []string, maxLines int) []string {
	if len(lines) == 0 {
		return []string{}
	}
	if maxLines <= 0 || len(lines) <= maxLines {
		return lines
	}
	half := maxLines / 2
	ellipsized := make([]string, 0, 2*half+1)
	ellipsized = append(ellipsized, lines[:half]...)
	ellipsized = append(ellipsized, "...")
	return append(ellipsized, lines[len(lines)-half:]...)
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
