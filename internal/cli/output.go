package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // refresh rejected or scenarios failed
	ExitCommandError = 2 // bad arguments, unreadable catalog, database errors
)

// Response codes for failures outside the refresh itself. A rejected refresh
// reports its own code instead (VALIDATION_FAILED, CYCLE_DETECTED, CONFLICT,
// NOT_FOUND).
const (
	ErrCodeCommand     = "E_COMMAND"
	ErrCodeCatalog     = "E_CATALOG"
	ErrCodeStore       = "E_STORE"
	ErrCodeTestFailed  = "E_TEST_FAILED"
	ErrCodeRefreshFail = "E_REFRESH"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// ExitError carries the process exit code of a failed command up to main.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError with no underlying cause.
func NewExitError(code int, message string) *ExitError {
	return WrapExitError(code, message, nil)
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to the process exit code. An ExitError
// anywhere in the chain supplies its own code; any other error is a failure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results. In json format every result is one
// CLIResponse line on Writer; in text format commands print their own
// results and only failures go through here. Verbose diagnostics go to
// ErrWriter so they never interleave with a JSON response.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Error     *CLIError `json:"error,omitempty"`
	RefreshID string    `json:"refresh_id,omitempty"`
}

// CLIError describes a failed command. Details holds the pools, cycle chain
// or offending field of a rejected refresh.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data as an ok response.
func (f *OutputFormatter) Success(data any) error {
	return writeResponse(f.Writer, CLIResponse{Status: statusOK, Data: data})
}

// SuccessWithRefreshID writes a refresh report tagged with the refresh that
// produced it, so callers can match it against job status events.
func (f *OutputFormatter) SuccessWithRefreshID(data any, refreshID string) error {
	return writeResponse(f.Writer, CLIResponse{Status: statusOK, Data: data, RefreshID: refreshID})
}

// Fail reports a failed command and returns the ExitError the command should
// return. Text output shows details only in verbose mode.
func (f *OutputFormatter) Fail(exitCode int, code, message string, details any, err error) error {
	if f.Format == "json" {
		resp := CLIResponse{
			Status: statusError,
			Error:  &CLIError{Code: code, Message: message, Details: details},
		}
		if werr := writeResponse(f.Writer, resp); werr != nil {
			return werr
		}
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
		if f.Verbose && details != nil {
			fmt.Fprintf(f.Writer, "Details: %v\n", details)
		}
	}
	return WrapExitError(exitCode, message, err)
}

// VerboseLog prints a progress line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func writeResponse(w io.Writer, resp CLIResponse) error {
	return json.NewEncoder(w).Encode(resp)
}
