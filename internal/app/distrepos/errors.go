package distrepos

import (
	"fmt"

	"github.com/pkg/errors"
)

// Process exit codes
const (
	ExitConfig   = 3
	ExitRsync    = 4
	ExitFailures = 5
	ExitEmpty    = 6
)

// A ProgramError is fatal to the whole run; Code is the exit code for the process.
type ProgramError struct {
	Code int
	Err  error
}

func (e *ProgramError) Error() string {
	switch e.Code {
	case ExitConfig:
		return fmt.Sprintf("config error: %s", e.Err)
	case ExitRsync:
		return fmt.Sprintf("rsync error: %s", e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ProgramError) Unwrap() error {
	return e.Err
}

// ExitCode makes ProgramError usable as an urfave/cli ExitCoder.
func (e *ProgramError) ExitCode() int {
	return e.Code
}

func newConfigError(format string, a ...any) error {
	return &ProgramError{Code: ExitConfig, Err: errors.Errorf(format, a...)}
}

func newMissingOptionError(section, option string) error {
	return newConfigError("section [%s] missing or empty required option %s", section, option)
}

func newRsyncError(err error, message string) error {
	return &ProgramError{Code: ExitRsync, Err: errors.Wrap(err, message)}
}

// IsFatal reports whether the error must abort the whole run instead of just one tag.
func IsFatal(err error) bool {
	var programErr *ProgramError
	return errors.As(err, &programErr)
}

// IsConfigError reports whether the error is a configuration error.
func IsConfigError(err error) bool {
	var programErr *ProgramError
	return errors.As(err, &programErr) && programErr.Code == ExitConfig
}
